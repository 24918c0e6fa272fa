package actuator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// lockStripes bounds the keyed-serialization table. Two challenges for
// the same (guild,user) pair always hash to the same stripe.
const lockStripes = 64

// Actuator executes action intents against the platform. It is the
// single logical consumer of the action queue: executions run
// concurrently across distinct (guild,user) keys while the strike,
// ratelimit and edit-budget bookkeeping stays serialized.
type Actuator struct {
	config   *config.Actuator
	platform Platform
	states   *state.Manager
	logger   *zap.Logger

	queue   chan action.Action
	locks   [lockStripes]chan struct{}
	deletes *deleteBatcher
	logs    *logBatcher
}

// New creates the actuator and its background batchers. Run must be
// called before Submit produces any effect.
func New(cfg *config.Actuator, platform Platform, states *state.Manager, logger *zap.Logger) *Actuator {
	logger = logger.Named("actuator")

	a := &Actuator{
		config:   cfg,
		platform: platform,
		states:   states,
		logger:   logger,
		queue:    make(chan action.Action, cfg.QueueSize),
	}

	for i := range a.locks {
		a.locks[i] = make(chan struct{}, 1)
	}

	a.deletes = newDeleteBatcher(cfg, platform, states, logger)
	a.logs = newLogBatcher(cfg, platform, states, logger)

	return a
}

// Submit places actions on the work queue. Never blocks; when the queue
// is full the action is dropped with a warning, since a backed-up
// actuator retrying old intents would act on a changed world state.
func (a *Actuator) Submit(actions ...action.Action) {
	for _, act := range actions {
		select {
		case a.queue <- act:
		default:
			a.logger.Warn("Action queue full, dropping action", zap.Any("action", act))
		}
	}
}

// Run drains the queue until ctx is cancelled. Batchers run as
// supervised tasks that restart after a crash.
func (a *Actuator) Run(ctx context.Context) {
	var wg conc.WaitGroup

	wg.Go(func() { a.supervise(ctx, "delete_batcher", a.deletes.run) })
	wg.Go(func() { a.supervise(ctx, "log_batcher", a.logs.run) })

	workers := pool.New().WithMaxGoroutines(a.config.MaxConcurrent)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case act := <-a.queue:
			workers.Go(func() { a.dispatch(ctx, act) })
		}
	}

	workers.Wait()
	wg.Wait()
}

// dispatch executes one action. A panic in any handler is contained
// here so one malformed intent cannot take down the consumer.
func (a *Actuator) dispatch(ctx context.Context, act action.Action) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Action handler panicked",
				zap.Any("action", act),
				zap.Any("panic", r))
		}
	}()

	switch act := act.(type) {
	case action.Challenge:
		unlock := a.lock(uint64(act.GuildID) ^ uint64(act.UserID))
		defer unlock()

		a.challenge(ctx, act)
	case action.Delete:
		a.handleDelete(ctx, act)
	case action.Nickname:
		unlock := a.lock(uint64(act.GuildID) ^ uint64(act.UserID))
		defer unlock()

		a.nickname(ctx, act)
	case action.Announcement:
		a.announce(ctx, act)
	case action.ChannelRatelimit:
		a.ratelimit(ctx, act)
	case action.Log:
		a.logs.enqueue(act)
	default:
		a.logger.Error("Unknown action type", zap.Any("action", act))
	}
}

// lock serializes execution for one key and returns the release func.
func (a *Actuator) lock(key uint64) func() {
	stripe := a.locks[key%lockStripes]
	stripe <- struct{}{}

	return func() { <-stripe }
}

// supervise keeps a long-lived task running. Crashes are logged and the
// task restarts; a task dying again within 100ms backs off exponentially
// so a persistent failure cannot spin into a crash loop.
func (a *Actuator) supervise(ctx context.Context, name string, run func(ctx context.Context)) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	for ctx.Err() == nil {
		started := time.Now()

		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("Background task crashed",
						zap.String("task", name),
						zap.Any("panic", r))
				}
			}()

			run(ctx)
		}()

		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > 100*time.Millisecond {
			policy.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.NextBackOff()):
		}
	}
}
