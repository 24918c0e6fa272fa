package state

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robalyx/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// Manager owns every guild's moderation state. The map is sharded
// internally; engine workers only touch guilds of their own partition,
// so two workers never contend on the same state.
type Manager struct {
	states *xsync.MapOf[snowflake.ID, *GuildState]
	config *config.Config
	logger *zap.Logger
}

// NewManager creates an empty state manager.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		states: xsync.NewMapOf[snowflake.ID, *GuildState](),
		config: cfg,
		logger: logger.Named("state"),
	}
}

// GetOrCreate returns the guild's state, creating it on first event.
func (m *Manager) GetOrCreate(guildID snowflake.ID) *GuildState {
	state, loaded := m.states.LoadOrCompute(guildID, func() *GuildState {
		return newGuildState(guildID, m.config)
	})

	if !loaded {
		m.logger.Debug("Created guild state", zap.Uint64("guild_id", uint64(guildID)))
	}

	return state
}

// Get returns the guild's state without creating one.
func (m *Manager) Get(guildID snowflake.ID) (*GuildState, bool) {
	return m.states.Load(guildID)
}

// Remove destroys the guild's state. Called when the guild is no
// longer observed.
func (m *Manager) Remove(guildID snowflake.ID) {
	if _, existed := m.states.LoadAndDelete(guildID); existed {
		m.logger.Debug("Removed guild state", zap.Uint64("guild_id", uint64(guildID)))
	}
}

// Sweep prunes every state's windows and evicts guilds idle for longer
// than idleAfter. Returns how many guilds were evicted.
func (m *Manager) Sweep(idleAfter time.Duration) int {
	cutoff := time.Now().Add(-idleAfter)
	evicted := 0

	m.states.Range(func(guildID snowflake.ID, state *GuildState) bool {
		if state.Sweep(cutoff) {
			m.states.Delete(guildID)
			evicted++
		}

		return true
	})

	if evicted > 0 {
		m.logger.Debug("Swept idle guild states", zap.Int("evicted", evicted))
	}

	return evicted
}

// Range calls fn for every tracked guild until fn returns false.
func (m *Manager) Range(fn func(guildID snowflake.ID, state *GuildState) bool) {
	m.states.Range(fn)
}

// Len returns the number of tracked guilds.
func (m *Manager) Len() int {
	return m.states.Size()
}
