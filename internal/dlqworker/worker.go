// Package dlqworker replays dead lettered webhooks and stores the ones that
// keep failing.
package dlqworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/ingestion"
	internal_js "github.com/kailera/acertaia-api/internal/jetstream"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/pkg/logger"
)

const (
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
	replayTimeout     = 2 * time.Minute
)

type replayAction int

const (
	replayAck replayAction = iota
	replayRetry
	replayTerm
)

// Worker pulls from the DLQ stream and replays each webhook through the router.
type Worker struct {
	cfg        config.DLQConfig
	dlqSubject string
	durable    string
	logger     *zap.Logger
	js         internal_js.ClientInterface
	pool       *ants.Pool
	router     ingestion.Dispatcher
	store      storage.ExhaustedWebhookRepo
	msgCh      chan *nats.Msg
	stopWg     sync.WaitGroup
	mu         sync.Mutex
	cancel     context.CancelFunc
}

// NewWorker creates the worker and ensures the DLQ stream and its pull consumer exist.
func NewWorker(cfg config.DLQConfig, dlqSubject string, log *zap.Logger, jsClient internal_js.ClientInterface, router ingestion.Dispatcher, store storage.ExhaustedWebhookRepo) (*Worker, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("DLQ worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	w := &Worker{
		cfg:        cfg,
		dlqSubject: dlqSubject,
		durable:    strings.ReplaceAll(dlqSubject, ".", "_") + "_worker",
		logger:     log.Named("dlq_worker"),
		js:         jsClient,
		pool:       pool,
		router:     router,
		store:      store,
		msgCh:      make(chan *nats.Msg, defaultMsgChanCap),
	}

	setupCtx := logger.WithLogger(context.Background(), w.logger)
	streamCfg := &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{dlqSubject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	}
	if err := jsClient.SetupStream(setupCtx, streamCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ stream '%s': %w", cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:       w.durable,
		FilterSubject: dlqSubject + ".>",
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if err := jsClient.SetupConsumer(setupCtx, cfg.Stream, consumerCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ consumer '%s' for stream '%s': %w", w.durable, cfg.Stream, err)
	}

	w.logger.Info("DLQ worker initialized", zap.Int("pool_size", workers), zap.String("stream", cfg.Stream))
	return w, nil
}

// Start begins the fetch and dispatch loops and blocks until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.js.SubscribePull(w.cfg.Stream, w.dlqSubject+".>", w.durable)
	if err != nil {
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	derivedCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.stopWg.Add(2)
	w.mu.Unlock()

	go w.fetchMessages(derivedCtx, sub)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("DLQ worker started")
	<-derivedCtx.Done()
	return nil
}

// Stop cancels the loops, waits for them and releases the pool.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.stopWg.Wait()
	w.pool.Release()
	w.logger.Info("DLQ worker stopped")
}

func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				w.logger.Warn("DLQ subscription closed, stopping fetch loop", zap.Error(err))
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			observer.IncDlqFetchError()
			w.logger.Error("Failed to fetch DLQ messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case w.msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()

	for {
		observer.SetDlqWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			return
		case msg := <-w.msgCh:
			err := w.pool.Submit(func() {
				taskCtx, cancel := context.WithTimeout(context.Background(), replayTimeout)
				defer cancel()
				w.handle(taskCtx, msg)
			})
			if err != nil {
				w.logger.Error("Failed to submit DLQ task to pool", zap.Error(err))
				observer.IncDlqTask("submit_error")
				if nakErr := msg.NakWithDelay(5 * time.Second); nakErr != nil {
					w.logger.Error("Failed to NAK message after pool submission error", zap.Error(nakErr))
				}
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	start := time.Now()
	defer func() { observer.ObserveDlqProcessingDuration(time.Since(start)) }()

	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to read DLQ message metadata", zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message", zap.Error(termErr))
		}
		return
	}

	action, delay := w.replay(ctx, msg.Data, meta.NumDelivered)
	switch action {
	case replayAck:
		err = msg.Ack()
	case replayRetry:
		err = msg.NakWithDelay(delay)
	case replayTerm:
		err = msg.Term()
	}
	if err != nil {
		w.logger.Error("Failed to settle DLQ message", zap.Int("action", int(action)), zap.Error(err))
	}
}

// replay routes the original webhook again. attempt is the DLQ delivery count.
func (w *Worker) replay(ctx context.Context, data []byte, attempt uint64) (replayAction, time.Duration) {
	var payload model.DLQPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Error("Failed to unmarshal DLQ payload", zap.Error(err), zap.ByteString("data", data))
		observer.IncDlqTask("dropped")
		return replayTerm, 0
	}

	log := w.logger.With(
		zap.String("source_subject", payload.SourceSubject),
		zap.String("instance", payload.Instance),
		zap.Uint64("attempt", attempt),
	)
	routeCtx := logger.WithLogger(ctx, log)

	metadata := &model.MessageMetadata{
		MessageSubject: payload.SourceSubject,
		Instance:       payload.Instance,
		NumDelivered:   attempt,
		Timestamp:      payload.Timestamp,
	}
	err := w.router.Route(routeCtx, metadata, payload.OriginalPayload)
	if err == nil {
		log.Info("Replayed dead lettered webhook")
		observer.IncDlqTask("replayed")
		return replayAck, 0
	}

	if attempt < w.cfg.MaxRetries {
		delay := backoffDelay(attempt, w.cfg.BaseDelay, w.cfg.MaxDelay)
		log.Warn("DLQ replay failed, retrying later", zap.Error(err), zap.Duration("delay", delay))
		observer.IncDlqTask("retry")
		return replayRetry, delay
	}

	log.Warn("DLQ replays exhausted, storing webhook", zap.Error(err))
	exhausted := model.ExhaustedWebhook{
		Instance:        payload.Instance,
		SourceSubject:   payload.SourceSubject,
		LastError:       err.Error(),
		RetryCount:      int(payload.RetryCount + attempt),
		EventTimestamp:  payload.Timestamp,
		DLQPayload:      datatypes.JSON(data),
		OriginalPayload: datatypes.JSON(payload.OriginalPayload),
	}
	if saveErr := w.store.Save(ctx, exhausted); saveErr != nil {
		log.Error("Failed to store exhausted webhook, terminating anyway", zap.Error(saveErr))
		observer.IncDlqTask("dropped")
		return replayTerm, 0
	}
	observer.IncDlqTask("exhausted")
	return replayTerm, 0
}

// backoffDelay doubles base per attempt, capped at maxDelay.
func backoffDelay(attempt uint64, base, maxDelay time.Duration) time.Duration {
	delay := base
	for i := uint64(1); i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
