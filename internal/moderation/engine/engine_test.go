package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/detector/raid"
	"github.com/robalyx/sentinel/internal/moderation/detector/slowmode"
	"github.com/robalyx/sentinel/internal/moderation/detector/spam"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockStore struct {
	mu    sync.Mutex
	cfg   *storage.GuildConfig
	ent   *storage.Entitlement
	calls int
}

func (m *mockStore) GetGuildConfig(_ context.Context, _ snowflake.ID) (*storage.GuildConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	return m.cfg, nil
}

func (m *mockStore) GetEntitlement(_ context.Context, _ snowflake.ID) (*storage.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ent, nil
}

type actionSink struct {
	mu      sync.Mutex
	actions []action.Action
}

func (s *actionSink) submit(actions ...action.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = append(s.actions, actions...)
}

func (s *actionSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.actions)
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.Engine{
			WorkerCount:       1,
			QueueSize:         64,
			PendingBufferSize: 8,
			SweepInterval:     60,
			ConfigCacheTTL:    300,
		},
		Moderation: config.ModerationConfig{
			Spam: config.Spam{
				MessageWindow:            30,
				SimilarityRatio:          0.8,
				SimilarityUserThreshold:  4,
				SimilarityGuildThreshold: 11,
				ExceptionWeight:          1.0 / 3.0,
				TokenMinMessages:         10,
				TokenMinWeight:           7,
				RepeatChannelCount:       3,
				StickerRepeatCount:       3,
				AttachmentRepeatCount:    3,
				MitigationTTL:            300,
			},
			Raid:     config.Raid{DefaultLimit: 5, DefaultWindow: 300, KickedMarkerTTL: 120},
			Slowmode: config.Slowmode{Tick: 10, CurveExponent: 1.3, CurveDivisor: 15, MaxRatelimit: 10, ExceptionDivisor: 5, EmergencyThreshold: 100},
			Actuator: config.Actuator{
				StrikeUserWindow:  3600,
				StrikeGuildWindow: 300,
				EditBudgetWindow:  10,
				ChallengeDebounce: 3,
				DeleteDedupeTTL:   60,
				DeleteTick:        1000,
			},
		},
	}
}

func setupEngine(t *testing.T, store ConfigStore) (*Engine, *actionSink, *state.Manager) {
	t.Helper()

	cfg := testConfig()
	logger := zap.NewNop()
	states := state.NewManager(cfg, logger)
	sink := &actionSink{}

	eng := New(
		cfg,
		states,
		store,
		spam.New(&cfg.Moderation.Spam, logger),
		raid.New(&cfg.Moderation.Raid, nil, logger),
		slowmode.New(&cfg.Moderation.Slowmode, logger),
		sink.submit,
		nil,
		logger,
	)

	return eng, sink, states
}

func messageEvent(id, channelID, userID uint64, content string) *event.Event {
	return &event.Event{
		Type:    event.TypeMessageCreate,
		GuildID: snowflake.ID(1),
		Message: &event.Message{
			ID:         snowflake.ID(id),
			ChannelID:  snowflake.ID(channelID),
			GuildID:    snowflake.ID(1),
			AuthorID:   snowflake.ID(userID),
			AuthorName: "author",
			Content:    content,
			CreatedAt:  time.Now(),
		},
		ReceivedAt: time.Now(),
	}
}

func TestEventsBufferUntilConfigLoadsThenReplay(t *testing.T) {
	t.Parallel()

	store := &mockStore{
		cfg: &storage.GuildConfig{AntispamEnabled: true},
		ent: &storage.Entitlement{},
	}
	eng, sink, _ := setupEngine(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.Run(ctx)

	// All three land before the config fetch completes; the replay must
	// run them in order so the third message sees two priors and trips
	// the cross-channel repeat rule
	eng.Dispatch(messageEvent(1, 10, 7, "free nitro at example.test"))
	eng.Dispatch(messageEvent(2, 11, 7, "free nitro at example.test"))
	eng.Dispatch(messageEvent(3, 12, 7, "free nitro at example.test"))

	require.Eventually(t, func() bool {
		return sink.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	var challenges int

	sink.mu.Lock()
	for _, act := range sink.actions {
		if _, ok := act.(action.Challenge); ok {
			challenges++
		}
	}
	sink.mu.Unlock()

	assert.Equal(t, 1, challenges)
}

func TestConfigFetchedOncePerGuild(t *testing.T) {
	t.Parallel()

	store := &mockStore{cfg: &storage.GuildConfig{}, ent: &storage.Entitlement{}}
	eng, _, states := setupEngine(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.Run(ctx)

	for i := range 5 {
		eng.Dispatch(messageEvent(uint64(i+1), 10, 7, "hello"))
	}

	require.Eventually(t, func() bool {
		guild, exists := states.Get(snowflake.ID(1))
		return exists && guild.ConfigLoaded(time.Minute)
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.calls)
}

func TestGuildLeaveDestroysState(t *testing.T) {
	t.Parallel()

	store := &mockStore{cfg: &storage.GuildConfig{}, ent: &storage.Entitlement{}}
	eng, _, states := setupEngine(t, store)

	states.GetOrCreate(snowflake.ID(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.Run(ctx)

	eng.Dispatch(&event.Event{Type: event.TypeGuildLeave, GuildID: snowflake.ID(1)})

	require.Eventually(t, func() bool {
		return states.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDetectorPanicIsContained(t *testing.T) {
	t.Parallel()

	store := &mockStore{cfg: &storage.GuildConfig{RaidEnabled: true}, ent: &storage.Entitlement{RaidProtection: true}}
	eng, sink, states := setupEngine(t, store)

	guild := states.GetOrCreate(snowflake.ID(1))
	guild.SetConfig(store.cfg, store.ent)

	// A join event with no member payload panics inside the raid
	// detector; the boundary must absorb it
	assert.NotPanics(t, func() {
		eng.process(guild, &event.Event{Type: event.TypeMemberJoin, GuildID: snowflake.ID(1)})
	})

	// The partition keeps working afterwards
	eng.process(guild, messageEvent(1, 10, 7, "hello"))
	assert.Equal(t, 0, sink.count())
	assert.Len(t, guild.RecentMessages(), 1)
}
