package engine

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/detector/raid"
	"github.com/robalyx/sentinel/internal/moderation/detector/slowmode"
	"github.com/robalyx/sentinel/internal/moderation/detector/spam"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/storage"
	"github.com/robalyx/sentinel/internal/telemetry"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Submitter hands a detection's action set to the actuator. Resolved
// through the capability registry at wiring time.
type Submitter func(actions ...action.Action)

// ConfigStore supplies per-guild configuration and entitlement records.
type ConfigStore interface {
	GetGuildConfig(ctx context.Context, guildID snowflake.ID) (*storage.GuildConfig, error)
	GetEntitlement(ctx context.Context, guildID snowflake.ID) (*storage.Entitlement, error)
}

// task is one unit of worker input: either an inbound event or a
// freshly fetched configuration snapshot to install.
type task struct {
	evt *event.Event

	guildID     snowflake.ID
	guildConfig *storage.GuildConfig
	entitlement *storage.Entitlement
}

// Engine drives the detector chain. Guilds are partitioned across N
// workers by guild id; each worker drains its own queue and runs
// detectors single-threadedly for the guilds it owns, so per-guild
// event order is preserved without locking in the detectors.
type Engine struct {
	config   *config.Config
	states   *state.Manager
	store    ConfigStore
	spam     *spam.Detector
	raid     *raid.Detector
	slowmode *slowmode.Controller
	submit   Submitter
	track    raid.TrackFunc
	logger   *zap.Logger

	queues   []chan task
	fetching *xsync.MapOf[snowflake.ID, struct{}]
}

// New creates the engine with cfg.Engine.WorkerCount partitions.
func New(
	cfg *config.Config,
	states *state.Manager,
	store ConfigStore,
	spamDetector *spam.Detector,
	raidDetector *raid.Detector,
	slowmodeController *slowmode.Controller,
	submit Submitter,
	track raid.TrackFunc,
	logger *zap.Logger,
) *Engine {
	if track == nil {
		track = func(*telemetry.Record) {}
	}

	queues := make([]chan task, cfg.Engine.WorkerCount)
	for i := range queues {
		queues[i] = make(chan task, cfg.Engine.QueueSize)
	}

	return &Engine{
		config:   cfg,
		states:   states,
		store:    store,
		spam:     spamDetector,
		raid:     raidDetector,
		slowmode: slowmodeController,
		submit:   submit,
		track:    track,
		logger:   logger.Named("engine"),
		queues:   queues,
		fetching: xsync.NewMapOf[snowflake.ID, struct{}](),
	}
}

// Dispatch routes an event to its guild's worker. Guild-less events are
// broadcast to every worker. Never blocks; a full partition queue drops
// the event with a warning.
func (e *Engine) Dispatch(evt *event.Event) {
	if evt.GuildID == 0 {
		for i := range e.queues {
			e.enqueue(i, task{evt: evt})
		}

		return
	}

	e.enqueue(e.partition(evt.GuildID), task{evt: evt})
}

func (e *Engine) partition(guildID snowflake.ID) int {
	return int(uint64(guildID) % uint64(len(e.queues)))
}

func (e *Engine) enqueue(worker int, t task) {
	select {
	case e.queues[worker] <- t:
	default:
		e.logger.Warn("Worker queue full, dropping task",
			zap.Int("worker", worker),
			zap.Uint64("guild_id", uint64(t.guildID)))
	}
}

// Run starts the workers and the periodic sweep and slowmode tickers,
// blocking until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	var wg conc.WaitGroup

	for i := range e.queues {
		wg.Go(func() { e.runWorker(ctx, i) })
	}

	wg.Go(func() { e.runSweeper(ctx) })
	wg.Go(func() { e.runSlowmodeTicker(ctx) })

	wg.Wait()
}

func (e *Engine) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queues[id]:
			e.handle(ctx, t)
		}
	}
}

// handle processes one task on the owning worker. Events for guilds
// whose configuration has not loaded are buffered; a config task
// installs the snapshot and replays the buffer in arrival order.
func (e *Engine) handle(ctx context.Context, t task) {
	if t.evt == nil {
		guild := e.states.GetOrCreate(t.guildID)

		for _, buffered := range guild.SetConfig(t.guildConfig, t.entitlement) {
			e.process(guild, buffered)
		}

		return
	}

	evt := t.evt

	if evt.Type == event.TypeGuildLeave {
		e.states.Remove(evt.GuildID)
		return
	}

	guild := e.states.GetOrCreate(evt.GuildID)

	maxAge := time.Duration(e.config.Engine.ConfigCacheTTL) * time.Second
	if !guild.ConfigLoaded(maxAge) {
		if !guild.BufferEvent(evt) {
			e.logger.Warn("Pending buffer full, dropped oldest event",
				zap.Uint64("guild_id", uint64(evt.GuildID)))
		}

		e.fetchConfig(ctx, evt.GuildID)

		return
	}

	e.process(guild, evt)
}

// fetchConfig loads the guild's records off-worker, at most once per
// guild at a time, and routes the result back to the owning worker so
// the snapshot installs without racing the event path.
func (e *Engine) fetchConfig(ctx context.Context, guildID snowflake.ID) {
	if _, inFlight := e.fetching.LoadOrStore(guildID, struct{}{}); inFlight {
		return
	}

	go func() {
		defer e.fetching.Delete(guildID)

		guildCfg, err := e.store.GetGuildConfig(ctx, guildID)
		if err != nil {
			e.logger.Warn("Guild config fetch failed",
				zap.Uint64("guild_id", uint64(guildID)),
				zap.Error(err))

			return
		}

		entitlement, err := e.store.GetEntitlement(ctx, guildID)
		if err != nil {
			e.logger.Warn("Entitlement fetch failed",
				zap.Uint64("guild_id", uint64(guildID)),
				zap.Error(err))

			return
		}

		select {
		case e.queues[e.partition(guildID)] <- task{
			guildID:     guildID,
			guildConfig: guildCfg,
			entitlement: entitlement,
		}:
		case <-ctx.Done():
		}
	}()
}

// process runs the detector chain for one event. A panicking detector
// is contained here: it is logged with the event context and treated as
// no action produced, so one bad rule cannot stall the partition.
func (e *Engine) process(guild *state.GuildState, evt *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Detector panicked",
				zap.Uint64("guild_id", uint64(guild.GuildID)),
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", r))
		}
	}()

	switch evt.Type {
	case event.TypeMessageCreate, event.TypeMessageUpdate:
		e.processMessage(guild, evt)
	case event.TypeMemberJoin:
		if actions := e.raid.OnMemberJoin(guild, evt.Member); len(actions) > 0 {
			e.submit(actions...)
		}
	case event.TypeMemberLeave:
		e.raid.OnMemberLeave(guild, evt.Member)
	case event.TypeBanCreate, event.TypeBanDelete:
		e.track(&telemetry.Record{
			Name:      string(evt.Type),
			GuildID:   uint64(evt.GuildID),
			TrackedAt: evt.ReceivedAt,
		})
	case event.TypeGuildLeave:
		// Handled before the chain runs.
	}
}

func (e *Engine) processMessage(guild *state.GuildState, evt *event.Event) {
	msg := evt.Message
	if msg == nil || msg.AuthorBot {
		return
	}

	// The rate counter sees every message, including ones the spam
	// chain later flags.
	if evt.Type == event.TypeMessageCreate {
		if actions := e.slowmode.OnMessage(guild, msg); len(actions) > 0 {
			e.submit(actions...)
		}
	}

	// The comparison window holds prior messages only; rules count the
	// trigger separately, so it joins the window after the pass.
	if actions := e.spam.Process(guild, msg); len(actions) > 0 {
		e.submit(actions...)
	}

	if evt.Type == event.TypeMessageCreate {
		guild.AddMessage(msg)
	}
}

func (e *Engine) runSweeper(ctx context.Context) {
	interval := time.Duration(e.config.Engine.SweepInterval) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.states.Sweep(2 * interval)
		}
	}
}

func (e *Engine) runSlowmodeTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.config.Moderation.Slowmode.Tick) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.states.Range(func(_ snowflake.ID, guild *state.GuildState) bool {
				if actions := e.slowmode.Tick(guild); len(actions) > 0 {
					e.submit(actions...)
				}

				return true
			})
		}
	}
}
