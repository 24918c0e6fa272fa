package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errMockNotFound = errors.New("not found")

// mockPlatform records every outbound call instead of performing it.
type mockPlatform struct {
	mu        sync.Mutex
	profile   *Profile
	perms     discord.Permissions
	calls     []string
	bulkSizes []int
	sent      []discord.MessageCreate
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{
		profile: &Profile{
			HasAdmin:         true,
			HasTimeout:       true,
			HasRole:          true,
			HasKick:          true,
			HasBan:           true,
			AboveInHierarchy: true,
		},
		perms: discord.PermissionAdministrator,
	}
}

func (m *mockPlatform) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)
}

func (m *mockPlatform) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.calls))
	copy(out, m.calls)

	return out
}

func (m *mockPlatform) Profile(_ context.Context, _, _ snowflake.ID) (*Profile, error) {
	return m.profile, nil
}

func (m *mockPlatform) ChannelPermissions(_ context.Context, _, _ snowflake.ID) (discord.Permissions, error) {
	return m.perms, nil
}

func (m *mockPlatform) DeleteMessage(_ context.Context, _, _ snowflake.ID, _ string) error {
	m.record("delete")
	return nil
}

func (m *mockPlatform) BulkDeleteMessages(_ context.Context, _ snowflake.ID, ids []snowflake.ID, _ string) error {
	m.record("bulk")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkSizes = append(m.bulkSizes, len(ids))

	return nil
}

func (m *mockPlatform) TimeoutMember(_ context.Context, _, _ snowflake.ID, until time.Time, _ string) error {
	if time.Until(until) > time.Minute {
		m.record(punishTimeoutLong)
	} else {
		m.record(punishTimeoutShort)
	}

	return nil
}

func (m *mockPlatform) AddRole(_ context.Context, _, _, _ snowflake.ID, _ string) error {
	m.record(punishRole)
	return nil
}

func (m *mockPlatform) KickMember(_ context.Context, _, _ snowflake.ID, _ string) error {
	m.record(punishKick)
	return nil
}

func (m *mockPlatform) BanMember(_ context.Context, _, _ snowflake.ID, _ time.Duration, _ string) error {
	m.record(punishBan)
	return nil
}

func (m *mockPlatform) SetNickname(_ context.Context, _, _ snowflake.ID, _, _ string) error {
	m.record("nickname")
	return nil
}

func (m *mockPlatform) SendMessage(_ context.Context, _ snowflake.ID, message discord.MessageCreate) (snowflake.ID, error) {
	m.record("send")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)

	return snowflake.ID(999), nil
}

func (m *mockPlatform) SetChannelRatelimit(_ context.Context, _ snowflake.ID, _ int, _ string) error {
	m.record("ratelimit")
	return nil
}

func (m *mockPlatform) IsNotFound(err error) bool {
	return errors.Is(err, errMockNotFound)
}

func testActuatorConfig() *config.Actuator {
	return &config.Actuator{
		StrikeUserWindow:       3600,
		StrikeGuildWindow:      300,
		SoftStrikeWorth:        1,
		HardStrikeWorth:        3,
		DangerUserDivisor:      3,
		DangerGuildDivisor:     12,
		KickBias:               50,
		BanOnlyThreshold:       30,
		AnnouncementMuteDanger: 2,
		EditBudgetLimit:        8,
		EditBudgetWindow:       10,
		ChallengeDebounce:      3,
		DeleteDedupeTTL:        60,
		DeleteTick:             50,
		LogTick:                50,
		LogMessageLimit:        2000,
		QueueSize:              64,
		MaxConcurrent:          4,
	}
}

func setupActuator(t *testing.T) (*Actuator, *mockPlatform, *state.Manager) {
	t.Helper()

	actuatorCfg := testActuatorConfig()
	cfg := &config.Config{
		Engine: config.Engine{PendingBufferSize: 8},
		Moderation: config.ModerationConfig{
			Spam:     config.Spam{MessageWindow: 30},
			Raid:     config.Raid{DefaultLimit: 5, DefaultWindow: 300, KickedMarkerTTL: 120},
			Actuator: *actuatorCfg,
		},
	}

	platform := newMockPlatform()
	states := state.NewManager(cfg, zap.NewNop())

	return New(actuatorCfg, platform, states, zap.NewNop()), platform, states
}

func hardChallenge(userID uint64) action.Challenge {
	return action.Challenge{
		GuildID:  snowflake.ID(1),
		UserID:   snowflake.ID(userID),
		Username: "target",
		Reason:   "testing",
	}
}

func TestZeroStrikesPicksMostLenient(t *testing.T) {
	t.Parallel()

	a, platform, _ := setupActuator(t)

	a.challenge(context.Background(), hardChallenge(100))

	require.Len(t, platform.recorded(), 1)
	assert.Equal(t, punishTimeoutShort, platform.recorded()[0])
}

func TestEscalationMonotonicity(t *testing.T) {
	t.Parallel()

	severity := map[string]int{
		punishTimeoutShort: 0,
		punishTimeoutLong:  1,
		punishRole:         2,
		punishKick:         3,
		punishBan:          4,
	}

	previous := -1

	for _, strikes := range []int{0, 3, 6, 9, 12, 21} {
		a, platform, states := setupActuator(t)

		if strikes > 0 {
			states.GetOrCreate(snowflake.ID(1)).AddStrikes(snowflake.ID(100), strikes)
		}

		a.challenge(context.Background(), hardChallenge(100))

		calls := platform.recorded()
		require.Len(t, calls, 1, "strikes=%d", strikes)

		rank := severity[calls[0]]
		assert.GreaterOrEqual(t, rank, previous, "strikes=%d", strikes)
		previous = rank
	}
}

func TestBanOnlyAboveGuildThreshold(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	// Strikes from another user push the guild ledger past the ban-only
	// threshold without touching the target's own ledger
	states.GetOrCreate(snowflake.ID(1)).AddStrikes(snowflake.ID(200), 40)

	a.challenge(context.Background(), hardChallenge(100))

	require.Len(t, platform.recorded(), 1)
	assert.Equal(t, punishBan, platform.recorded()[0])
}

func TestKickPreferredHintsPickKick(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	states.GetOrCreate(snowflake.ID(1)).AddStrikes(snowflake.ID(100), 12)

	c := hardChallenge(100)
	c.Hint = action.HintNoTimeout | action.HintNoRole | action.HintPreferKick

	a.challenge(context.Background(), c)

	require.Len(t, platform.recorded(), 1)
	assert.Equal(t, punishKick, platform.recorded()[0])
}

func TestSoftBlockSuppressedAtZeroDanger(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	c := hardChallenge(100)
	c.Block = true

	a.challenge(context.Background(), c)

	assert.Empty(t, platform.recorded())
	assert.Equal(t, 1, states.GetOrCreate(snowflake.ID(1)).UserStrikes(snowflake.ID(100)))
}

func TestSuppressedSoftBlockDoesNotDebounceHardChallenge(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	soft := hardChallenge(100)
	soft.Block = true

	a.challenge(context.Background(), soft)
	require.Empty(t, platform.recorded())

	// A raid kick landing right after a suppressed spam soft block must
	// still enforce
	a.challenge(context.Background(), hardChallenge(100))

	require.Len(t, platform.recorded(), 1)
	assert.Equal(t, punishTimeoutShort, platform.recorded()[0])

	// Both triggers accrued strikes: soft worth 1, hard worth 3
	assert.Equal(t, 4, states.GetOrCreate(snowflake.ID(1)).UserStrikes(snowflake.ID(100)))
}

func TestRepeatedSoftBlocksKeepAccruingStrikes(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	soft := hardChallenge(100)
	soft.Block = true

	a.challenge(context.Background(), soft)
	a.challenge(context.Background(), soft)
	a.challenge(context.Background(), soft)

	// The soft step-behind keeps danger at 0 throughout, so all three
	// are suppressed but none of their strikes is lost
	assert.Empty(t, platform.recorded())
	assert.Equal(t, 3, states.GetOrCreate(snowflake.ID(1)).UserStrikes(snowflake.ID(100)))
}

func TestChallengeDebounceCollapsesBurst(t *testing.T) {
	t.Parallel()

	a, platform, _ := setupActuator(t)

	a.challenge(context.Background(), hardChallenge(100))
	a.challenge(context.Background(), hardChallenge(100))

	assert.Len(t, platform.recorded(), 1)
}

func TestOwnerNeverActionable(t *testing.T) {
	t.Parallel()

	a, platform, _ := setupActuator(t)
	platform.profile.TargetIsOwner = true

	a.challenge(context.Background(), hardChallenge(100))

	assert.Empty(t, platform.recorded())

	// The no-op terminal state still leaves an audit trail
	a.logs.mu.Lock()
	defer a.logs.mu.Unlock()
	assert.NotEmpty(t, a.logs.pending[snowflake.ID(1)])
}

func TestEditBudgetRemovesMemberEdits(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	guild := states.GetOrCreate(snowflake.ID(1))
	for range testActuatorConfig().EditBudgetLimit {
		guild.RecordEdit()
	}

	a.challenge(context.Background(), hardChallenge(100))

	// Timeout and role entries disappear; kick is the most lenient left
	require.Len(t, platform.recorded(), 1)
	assert.Equal(t, punishKick, platform.recorded()[0])
}
