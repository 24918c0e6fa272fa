package setup

import (
	"context"
	"fmt"

	"github.com/robalyx/sentinel/internal/gateway"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/actuator"
	"github.com/robalyx/sentinel/internal/moderation/detector/raid"
	"github.com/robalyx/sentinel/internal/moderation/detector/slowmode"
	"github.com/robalyx/sentinel/internal/moderation/detector/spam"
	"github.com/robalyx/sentinel/internal/moderation/engine"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/redis"
	"github.com/robalyx/sentinel/internal/registry"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/storage"
	"github.com/robalyx/sentinel/internal/telemetry"
	"go.uber.org/zap"
)

// Capability names bound during the startup registration pass. Effect
// producers register under these names; consumers resolve them through
// the registry so construction order never forms a dependency cycle.
const (
	CapabilitySubmit = "actuator:submit"
	CapabilityTrack  = "telemetry:track"
)

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config     // Application configuration
	Logger       *zap.Logger        // Main application logger
	RedisManager *redis.Manager     // Redis connection manager
	Storage      *storage.Client    // Guild config and entitlement reader
	Tracker      *telemetry.Tracker // Fire-and-forget event stream producer
	Registry     *registry.Registry // Frozen capability lookup
	States       *state.Manager     // Per-guild moderation state
	Actuator     *actuator.Actuator // Moderation side-effect executor
	Engine       *engine.Engine     // Partitioned detector pipeline
	Gateway      *gateway.Gateway   // Discord gateway adapter
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available. The
// capability registry is frozen before returning, so no registration can
// happen once events start to flow.
func InitializeApp(ctx context.Context, logDir string, workerCount int) (*App, error) {
	// Load app configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// A positive workerCount overrides the configured partition count.
	// It must be applied before the engine sizes its worker queues.
	if workerCount > 0 {
		cfg.Engine.WorkerCount = workerCount
	}

	// Logging system is initialized next to capture setup issues
	logger, err := GetLogger(logDir, cfg.Debug.LogLevel, cfg.Debug.MaxLogsToKeep)
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for the storage and
	// telemetry subsystems
	redisManager := redis.NewManager(&cfg.Redis, logger)

	configClient, err := redisManager.GetClient(redis.GuildConfigDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create guild config client: %w", err)
	}

	entitlementClient, err := redisManager.GetClient(redis.EntitlementDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement client: %w", err)
	}

	telemetryClient, err := redisManager.GetClient(redis.TelemetryDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry client: %w", err)
	}

	store := storage.NewClient(configClient, entitlementClient, logger)
	tracker := telemetry.NewTracker(telemetryClient, logger)

	reg := registry.New(logger)
	states := state.NewManager(cfg, logger)

	// Detectors and the engine emit effects through registry-resolved
	// capabilities. The closures look up their capability per call, so
	// they can be handed out before the producing side exists; an
	// unregistered capability degrades to a no-op.
	submit := func(actions ...action.Action) {
		fn := reg.Lookup(CapabilitySubmit)
		if fn == nil {
			return
		}

		args := make([]any, len(actions))
		for i, act := range actions {
			args[i] = act
		}

		fn(args...)
	}

	track := func(record *telemetry.Record) {
		if fn := reg.Lookup(CapabilityTrack); fn != nil {
			fn(record)
		}
	}

	spamDetector := spam.New(&cfg.Moderation.Spam, logger)
	raidDetector := raid.New(&cfg.Moderation.Raid, track, logger)
	slowmodeController := slowmode.New(&cfg.Moderation.Slowmode, logger)

	eng := engine.New(
		cfg, states, store, spamDetector, raidDetector, slowmodeController, submit, track, logger,
	)

	gw, err := gateway.New(cfg.Discord.Token, eng, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	act := actuator.New(&cfg.Moderation.Actuator, gw.Platform(), states, logger)

	// Registration pass. Freeze before returning so that a Register
	// call from event-time code panics at startup during development.
	reg.Register(CapabilitySubmit, func(args ...any) any {
		batch := make([]action.Action, 0, len(args))

		for _, arg := range args {
			if a, ok := arg.(action.Action); ok {
				batch = append(batch, a)
			}
		}

		act.Submit(batch...)

		return nil
	})

	reg.Register(CapabilityTrack, func(args ...any) any {
		if len(args) == 0 {
			return nil
		}

		if record, ok := args[0].(*telemetry.Record); ok {
			tracker.Track(ctx, record)
		}

		return nil
	})

	reg.Freeze()

	return &App{
		Config:       cfg,
		Logger:       logger,
		RedisManager: redisManager,
		Storage:      store,
		Tracker:      tracker,
		Registry:     reg,
		States:       states,
		Actuator:     act,
		Engine:       eng,
		Gateway:      gw,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse
// initialization order.
func (a *App) Cleanup(ctx context.Context) {
	a.Gateway.Close(ctx)
	a.RedisManager.Close()

	_ = a.Logger.Sync()
}
