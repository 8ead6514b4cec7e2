package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/agent"
	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/lock"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// ExecutorFactory builds executors for stored agents and built-in roles.
// *agent.Factory implements it.
type ExecutorFactory interface {
	ForAgent(ctx context.Context, agentID string) (agent.Executor, *model.Agent, error)
	ForRecord(ctx context.Context, rec *model.Agent) agent.Executor
	Default() agent.Executor
	ForRole(t model.AgentType) (agent.Executor, error)
}

// EventPublisher announces finished resolutions.
type EventPublisher interface {
	PublishRoutingEvent(ctx context.Context, event *model.RoutingEvent) error
}

// ResolverInterface is what the services need from the resolver.
type ResolverInterface interface {
	Resolve(ctx context.Context, msg model.CanonicalMessage) (*model.Resolution, error)
	Generate(ctx context.Context, exec agent.Executor, msg model.CanonicalMessage, tier model.Tier) (string, error)
}

// Resolver picks the agent that answers a message: the bound agent first,
// then the owner's primary agent for the channel, then the default
// Secretary. The first agent that answers an unbound conversation is bound
// to it.
type Resolver struct {
	bindings  storage.BindingRepo
	agents    storage.AgentRepo
	factory   ExecutorFactory
	locker    lock.Locker
	publisher EventPublisher
	timeout   time.Duration
	now       func() time.Time
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithLocker serialises resolutions of the same conversation.
func WithLocker(l lock.Locker) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithEventPublisher publishes a RoutingEvent after every resolution.
func WithEventPublisher(p EventPublisher) ResolverOption {
	return func(r *Resolver) { r.publisher = p }
}

// NewResolver creates a resolver. timeout bounds every agent call.
func NewResolver(
	bindings storage.BindingRepo,
	agents storage.AgentRepo,
	factory ExecutorFactory,
	timeout time.Duration,
	opts ...ResolverOption,
) *Resolver {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := &Resolver{
		bindings: bindings,
		agents:   agents,
		factory:  factory,
		locker:   lock.NoopLocker{},
		timeout:  timeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve routes msg and returns the reply. Resolution misses are reported
// through the Outcome, not as errors. Agent failures return
// apperrors.ErrTimeout or apperrors.ErrAgentExecution and never bind.
func (r *Resolver) Resolve(ctx context.Context, msg model.CanonicalMessage) (*model.Resolution, error) {
	start := r.now()
	log := logger.FromContext(ctx).With(
		zap.String("conversation_id", msg.ConversationID),
		zap.String("channel", string(msg.Channel)),
		zap.String("owner_id", msg.OwnerID),
	)

	res := &model.Resolution{ConversationID: msg.ConversationID, Tier: model.TierNone}

	if msg.OwnerID == "" {
		res.Outcome = model.OutcomeNoOwner
		log.Warn("No owner registered for channel identity, message not routed",
			zap.String("instance", msg.Instance),
			zap.String("user_id", msg.UserID))
		r.finish(ctx, msg, res, start)
		return res, nil
	}

	lease, err := r.locker.Acquire(ctx, msg.ConversationID)
	if err != nil {
		log.Warn("Proceeding without conversation lock", zap.Error(err))
	} else {
		defer lease.Release(context.WithoutCancel(ctx))
	}

	// Tier 1: existing binding
	binding, err := r.bindings.Lookup(ctx, msg.ConversationID)
	switch {
	case err == nil:
		exec, rec, err := r.factory.ForAgent(ctx, binding.AgentID)
		switch {
		case err == nil && rec.OwnerID == msg.OwnerID:
			reply, err := r.Generate(ctx, exec, msg, model.TierBinding)
			if err != nil {
				return nil, err
			}
			res.AgentID = rec.ID
			res.Tier = model.TierBinding
			res.Outcome = model.OutcomeRouted
			res.Reply = reply
			r.finish(ctx, msg, res, start)
			return res, nil
		case err == nil:
			// someone else's agent counts as no binding; the fallback bind overwrites it
			log.Warn("Binding points at an agent of another owner, falling back",
				zap.String("agent_id", binding.AgentID),
				zap.String("agent_owner_id", rec.OwnerID))
		case errors.Is(err, apperrors.ErrNotFound):
			log.Warn("Binding points at a missing agent, falling back",
				zap.String("agent_id", binding.AgentID))
		default:
			return nil, fmt.Errorf("failed to load bound agent %s: %w", binding.AgentID, err)
		}
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to look up binding: %w", err)
	}

	// Tier 2: owner's primary agent for the channel
	primary, err := r.agents.FindPrimaryForChannel(ctx, msg.OwnerID, msg.Channel)
	switch {
	case err == nil:
		reply, err := r.Generate(ctx, r.factory.ForRecord(ctx, primary), msg, model.TierPrimary)
		if err != nil {
			return nil, err
		}
		res.AgentID = primary.ID
		res.Tier = model.TierPrimary
		res.Outcome = model.OutcomeRouted
		res.Reply = reply
		r.bind(ctx, res)
		r.finish(ctx, msg, res, start)
		return res, nil
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to look up primary agent: %w", err)
	}

	// Tier 3: default Secretary
	reply, err := r.Generate(ctx, r.factory.Default(), msg, model.TierDefault)
	if err != nil {
		return nil, err
	}
	res.Tier = model.TierDefault
	res.Reply = reply

	secretary, err := r.agents.FindByTypeForOwner(ctx, msg.OwnerID, model.AgentTypeSecretary)
	switch {
	case err == nil:
		res.AgentID = secretary.ID
		res.Outcome = model.OutcomeRouted
		r.bind(ctx, res)
	case errors.Is(err, apperrors.ErrNotFound):
		res.Outcome = model.OutcomeNoAgent
		log.Warn("Owner has no Secretary agent, conversation left unbound")
	default:
		res.Outcome = model.OutcomeNoAgent
		log.Error("Failed to look up Secretary agent, conversation left unbound", zap.Error(err))
	}

	r.finish(ctx, msg, res, start)
	return res, nil
}

// Generate runs one agent call under the resolver timeout and normalises
// the reply. It does not route and does not bind.
func (r *Resolver) Generate(ctx context.Context, exec agent.Executor, msg model.CanonicalMessage, tier model.Tier) (string, error) {
	if msg.OwnerID != "" {
		ctx = tenant.WithOwnerID(ctx, msg.OwnerID)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		raw any
		err error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		var raw any
		err := utils.WrapWithRecovery(callCtx, "agent call", func() (err error) {
			raw, err = exec.GenerateReply(callCtx, msg.Text, msg.UserID, msg.ConversationID)
			return err
		})()
		done <- result{raw: raw, err: err}
	}()

	var out result
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = result{err: callCtx.Err()}
	}
	observer.ObserveAgentExecution(string(tier), time.Since(start), out.err)

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: agent did not answer within %s", apperrors.ErrTimeout, r.timeout)
		}
		return "", fmt.Errorf("%w: %w", apperrors.ErrAgentExecution, out.err)
	}
	return agent.NormalizeReply(out.raw), nil
}

func (r *Resolver) bind(ctx context.Context, res *model.Resolution) {
	if err := r.bindings.Bind(ctx, res.ConversationID, res.AgentID); err != nil {
		logger.FromContext(ctx).Error("Failed to bind conversation, reply still returned",
			zap.String("conversation_id", res.ConversationID),
			zap.String("agent_id", res.AgentID),
			zap.Error(err))
		return
	}
	res.Bound = true
}

func (r *Resolver) finish(ctx context.Context, msg model.CanonicalMessage, res *model.Resolution, start time.Time) {
	elapsed := r.now().Sub(start)
	observer.IncRoutingResolution(string(msg.Channel), string(res.Tier), string(res.Outcome))
	observer.ObserveRoutingDuration(string(msg.Channel), string(res.Tier), elapsed)

	logger.FromContext(ctx).Debug("Conversation resolved",
		zap.String("conversation_id", res.ConversationID),
		zap.String("agent_id", res.AgentID),
		zap.String("tier", string(res.Tier)),
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("bound", res.Bound),
		zap.Duration("elapsed", elapsed))

	if r.publisher == nil {
		return
	}
	event := &model.RoutingEvent{
		ConversationID: res.ConversationID,
		OwnerID:        msg.OwnerID,
		UserID:         msg.UserID,
		Channel:        msg.Channel,
		Instance:       msg.Instance,
		AgentID:        res.AgentID,
		Tier:           res.Tier,
		Outcome:        res.Outcome,
		Bound:          res.Bound,
		ResolvedAt:     r.now().UTC(),
	}
	if err := r.publisher.PublishRoutingEvent(ctx, event); err != nil {
		logger.FromContext(ctx).Warn("Failed to publish routing event",
			zap.String("conversation_id", res.ConversationID),
			zap.Error(err))
	}
}
