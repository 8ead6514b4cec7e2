package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/evolution"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// DeliveryTaskData is one reply waiting to be sent to a WhatsApp contact.
type DeliveryTaskData struct {
	Ctx            context.Context // Detached from the request, carries the logger
	Instance       string
	RemoteJID      string
	ConversationID string
	Text           string
}

// IDeliveryWorker defines the interface for the outbound delivery pool.
type IDeliveryWorker interface {
	SubmitTask(taskData DeliveryTaskData) error
	Stop()
}

// DeliveryWorker sends replies through the gateway and records them in the
// message log.
type DeliveryWorker struct {
	pool       *ants.PoolWithFunc
	sender     evolution.Sender
	messages   storage.InboundMessageRepo
	cfg        config.WorkerPoolConfig
	baseLogger *zap.Logger
}

var _ IDeliveryWorker = (*DeliveryWorker)(nil)

// NewDeliveryWorker creates and initializes the delivery worker pool.
func NewDeliveryWorker(
	cfg config.WorkerPoolConfig,
	sender evolution.Sender,
	messages storage.InboundMessageRepo,
	baseLogger *zap.Logger,
) (*DeliveryWorker, error) {
	worker := &DeliveryWorker{
		sender:     sender,
		messages:   messages,
		cfg:        cfg,
		baseLogger: baseLogger.Named("delivery_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(DeliveryTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processDeliveryTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in delivery worker", zap.Any("panic_error", err), zap.Stack("stack"))
			observer.IncDeliveryTask("panic")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Delivery worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Duration("max_block", cfg.MaxBlock),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// submitRetryInterval is the pause between submits while every worker is busy.
const submitRetryInterval = 10 * time.Millisecond

// SubmitTask hands a reply to a free worker. When the pool is saturated it
// keeps trying for at most cfg.MaxBlock, then reports an overload.
func (w *DeliveryWorker) SubmitTask(taskData DeliveryTaskData) error {
	if taskData.Ctx == nil {
		taskData.Ctx = context.Background()
	}

	deadline := time.Now().Add(w.cfg.MaxBlock)
	var err error
	for {
		err = w.pool.Invoke(taskData)
		if !errors.Is(err, ants.ErrPoolOverload) || !time.Now().Before(deadline) || taskData.Ctx.Err() != nil {
			break
		}
		time.Sleep(submitRetryInterval)
	}
	observer.SetDeliveryWorkersRunning(w.pool.Running())
	if err != nil {
		w.baseLogger.Warn("Failed to submit delivery task to pool",
			zap.String("conversation_id", taskData.ConversationID),
			zap.String("instance", taskData.Instance),
			zap.Error(err),
		)
		observer.IncDeliveryTask("submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("delivery pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke delivery task: %w", err)
	}
	return nil
}

// processDeliveryTask runs on a pool goroutine.
func (w *DeliveryWorker) processDeliveryTask(taskData DeliveryTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.String("conversation_id", taskData.ConversationID),
		zap.String("instance", taskData.Instance),
		zap.String("remote_jid", taskData.RemoteJID),
	)
	start := time.Now()
	status := "success"
	defer func() {
		observer.ObserveDeliveryDuration(time.Since(start))
		observer.IncDeliveryTask(status)
		log.Debug("Finished delivery task", zap.Duration("duration", time.Since(start)), zap.String("final_status", status))
	}()

	if taskData.Text == "" {
		status = "skipped_empty"
		return
	}

	result, err := w.sender.SendText(taskData.Ctx, taskData.Instance, taskData.RemoteJID, taskData.Text)
	if err != nil {
		log.Error("Failed to send reply through gateway", zap.Error(err))
		status = "send_error"
		return
	}

	record := OutboundRecord(taskData.Instance, taskData.RemoteJID, taskData.ConversationID, taskData.Text, result)
	if _, err := w.messages.Insert(taskData.Ctx, record); err != nil {
		log.Error("Reply sent but outbound record not stored",
			zap.String("message_id", record.MessageID),
			zap.Error(err))
		status = "persist_error"
	}
}

// OutboundRecord builds the message log row of a sent text. The gateway
// message id is used when known.
func OutboundRecord(instance, remoteJID, conversationID, text string, result *evolution.SendResult) *model.InboundMessage {
	rec := &model.InboundMessage{
		ID:             uuid.NewString(),
		Instance:       instance,
		RemoteJID:      remoteJID,
		Body:           text,
		FromMe:         true,
		Direction:      model.MessageFlowOutgoing,
		ConversationID: conversationID,
		SentAt:         utils.Now(),
	}
	if result != nil {
		rec.MessageID = result.MessageID
		if result.Raw != nil {
			if raw, err := json.Marshal(result.Raw); err == nil {
				rec.Raw = datatypes.JSON(raw)
			}
		}
	}
	if rec.MessageID == "" {
		rec.MessageID = "out_" + rec.ID
	}
	return rec
}

// Stop drains and releases the pool.
func (w *DeliveryWorker) Stop() {
	if w.pool != nil {
		w.baseLogger.Info("Releasing delivery worker pool")
		start := time.Now()
		if err := w.pool.ReleaseTimeout(30 * time.Second); err != nil {
			w.baseLogger.Warn("Delivery pool did not drain in time", zap.Error(err))
		}
		w.baseLogger.Info("Delivery worker pool released", zap.Duration("duration", time.Since(start)))
	}
}
