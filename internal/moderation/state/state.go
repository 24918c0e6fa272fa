package state

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/storage"
	"github.com/robalyx/sentinel/pkg/utils"
)

// MatchData is the opaque signature an active mitigation carries. The
// predicate is a cheap containment/equality check that re-flags a
// continuation of the same abuse instance without re-running the full
// detection pass.
type MatchData interface {
	Matches(msg *event.Message) bool
}

// ActiveMitigation memoizes one detected abuse instance so follow-up
// messages can be matched in O(active mitigations) instead of O(window).
type ActiveMitigation struct {
	ID            snowflake.ID
	RuleName      string
	Data          MatchData
	LastTriggered time.Time
	TTL           time.Duration
	// BlocksOnRepeat marks rules whose re-matches use a soft block
	// challenge instead of a hard one.
	BlocksOnRepeat bool
}

// Expired reports whether the mitigation has outlived its TTL.
func (m *ActiveMitigation) Expired(now time.Time) bool {
	return now.Sub(m.LastTriggered) > m.TTL
}

// GuildState holds all moderation state scoped to one guild. A state is
// created on the guild's first event and destroyed on guild-leave. The
// owning engine worker is the only writer of the event-path fields; the
// actuator concurrently reads and bumps the counters, which carry their
// own locks.
type GuildState struct {
	GuildID snowflake.ID

	mu          sync.Mutex
	messages    []*event.Message
	mitigations []*ActiveMitigation
	slowmode    map[snowflake.ID]*SlowmodeChannel
	userStrikes map[snowflake.ID]*utils.WindowCounter
	lastEvent   time.Time

	joins        *utils.TTLMap[snowflake.ID, *event.Member]
	challenged   *utils.TTLMap[snowflake.ID, struct{}]
	kicked       *utils.TTLMap[snowflake.ID, struct{}]
	deleted      *utils.TTLMap[snowflake.ID, struct{}]
	bulkInFlight *utils.TTLMap[snowflake.ID, struct{}]

	guildStrikes *utils.WindowCounter
	editBudget   *utils.WindowCounter

	messageWindow    time.Duration
	strikeUserWindow time.Duration

	configMu    sync.Mutex
	config      *storage.GuildConfig
	entitlement *storage.Entitlement
	configAt    time.Time
	pending     []*event.Event
	pendingCap  int
}

// newGuildState builds a state with all windows sized from config.
func newGuildState(guildID snowflake.ID, cfg *config.Config) *GuildState {
	mod := &cfg.Moderation

	return &GuildState{
		GuildID:          guildID,
		slowmode:         make(map[snowflake.ID]*SlowmodeChannel),
		userStrikes:      make(map[snowflake.ID]*utils.WindowCounter),
		joins:            utils.NewTTLMap[snowflake.ID, *event.Member](time.Duration(mod.Raid.DefaultWindow) * time.Second),
		challenged:       utils.NewTTLMap[snowflake.ID, struct{}](time.Duration(mod.Actuator.ChallengeDebounce) * time.Second),
		kicked:           utils.NewTTLMap[snowflake.ID, struct{}](time.Duration(mod.Raid.KickedMarkerTTL) * time.Second),
		deleted:          utils.NewTTLMap[snowflake.ID, struct{}](time.Duration(mod.Actuator.DeleteDedupeTTL) * time.Second),
		bulkInFlight:     utils.NewTTLMap[snowflake.ID, struct{}](time.Duration(mod.Actuator.DeleteTick) * time.Millisecond),
		guildStrikes:     utils.NewWindowCounter(time.Duration(mod.Actuator.StrikeGuildWindow) * time.Second),
		editBudget:       utils.NewWindowCounter(time.Duration(mod.Actuator.EditBudgetWindow) * time.Second),
		messageWindow:    time.Duration(mod.Spam.MessageWindow) * time.Second,
		strikeUserWindow: time.Duration(mod.Actuator.StrikeUserWindow) * time.Second,
		pendingCap:       cfg.Engine.PendingBufferSize,
		lastEvent:        time.Now(),
	}
}

// AddMessage appends a message to the comparison window and prunes
// entries older than the window.
func (s *GuildState) AddMessage(msg *event.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastEvent = time.Now()
	s.pruneMessages(time.Now())
	s.messages = append(s.messages, msg)
}

// RecentMessages returns the live comparison window. The returned slice
// is a copy; entries themselves are immutable.
func (s *GuildState) RecentMessages() []*event.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneMessages(time.Now())

	window := make([]*event.Message, len(s.messages))
	copy(window, s.messages)

	return window
}

func (s *GuildState) pruneMessages(now time.Time) {
	cutoff := now.Add(-s.messageWindow)

	idx := 0
	for idx < len(s.messages) && s.messages[idx].CreatedAt.Before(cutoff) {
		idx++
	}

	if idx > 0 {
		s.messages = append(s.messages[:0], s.messages[idx:]...)
	}
}

// AddMitigation registers an active mitigation. Mitigations with a zero
// TTL are one-shot and never stored.
func (s *GuildState) AddMitigation(m *ActiveMitigation) {
	if m.TTL == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mitigations = append(s.mitigations, m)
}

// ActiveMitigations returns the live mitigations, lazily evicting any
// whose TTL has elapsed.
func (s *GuildState) ActiveMitigations() []*ActiveMitigation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	live := s.mitigations[:0]

	for _, m := range s.mitigations {
		if !m.Expired(now) {
			live = append(live, m)
		}
	}

	s.mitigations = live

	out := make([]*ActiveMitigation, len(live))
	copy(out, live)

	return out
}

// TouchMitigation refreshes a mitigation's trigger time, extending its
// life by its TTL.
func (s *GuildState) TouchMitigation(id snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.mitigations {
		if m.ID == id {
			m.LastTriggered = time.Now()
			return
		}
	}
}

// RecordJoin adds the member to the recent-joiner set with the given
// window and returns all members still inside it.
func (s *GuildState) RecordJoin(member *event.Member, window time.Duration) []*event.Member {
	s.mu.Lock()
	s.lastEvent = time.Now()
	s.mu.Unlock()

	s.joins.SetWithTTL(member.UserID, member, window)

	joiners := make([]*event.Member, 0, 8)
	s.joins.Range(func(_ snowflake.ID, m *event.Member) bool {
		joiners = append(joiners, m)
		return true
	})

	return joiners
}

// RemoveJoin drops a member from the recent-joiner set, used when the
// member leaves before the window closes.
func (s *GuildState) RemoveJoin(userID snowflake.ID) {
	s.joins.Delete(userID)
}

// TryMarkChallenged records the (guild,user) challenge debounce marker.
// Returns false when the user was already challenged inside the window.
func (s *GuildState) TryMarkChallenged(userID snowflake.ID) bool {
	if _, exists := s.challenged.Get(userID); exists {
		return false
	}

	s.challenged.Set(userID, struct{}{})

	return true
}

// TryMarkKicked records the per-burst raid marker. Returns false when
// the user was already handled in this burst.
func (s *GuildState) TryMarkKicked(userID snowflake.ID) bool {
	if _, exists := s.kicked.Get(userID); exists {
		return false
	}

	s.kicked.Set(userID, struct{}{})

	return true
}

// TryMarkDeleted records the delete dedupe marker for a message.
// Returns false when the message was already deleted.
func (s *GuildState) TryMarkDeleted(messageID snowflake.ID) bool {
	if _, exists := s.deleted.Get(messageID); exists {
		return false
	}

	s.deleted.Set(messageID, struct{}{})

	return true
}

// TryMarkBulkInFlight records that a bulk delete call is in flight for
// the channel. The platform rate-limits bulk deletes per channel, so at
// most one is issued per tick.
func (s *GuildState) TryMarkBulkInFlight(channelID snowflake.ID) bool {
	if _, exists := s.bulkInFlight.Get(channelID); exists {
		return false
	}

	s.bulkInFlight.Set(channelID, struct{}{})

	return true
}

// AddStrikes bumps both ledgers by worth.
func (s *GuildState) AddStrikes(userID snowflake.ID, worth int) {
	s.mu.Lock()
	counter, exists := s.userStrikes[userID]
	if !exists {
		counter = utils.NewWindowCounter(s.strikeUserWindow)
		s.userStrikes[userID] = counter
	}
	s.mu.Unlock()

	counter.Add(worth)
	s.guildStrikes.Add(worth)
}

// UserStrikes returns the user's live strike count.
func (s *GuildState) UserStrikes(userID snowflake.ID) int {
	s.mu.Lock()
	counter, exists := s.userStrikes[userID]
	s.mu.Unlock()

	if !exists {
		return 0
	}

	return counter.Total()
}

// GuildStrikes returns the guild's live strike count.
func (s *GuildState) GuildStrikes() int {
	return s.guildStrikes.Total()
}

// RecordEdit consumes one unit of the guild's edit budget.
func (s *GuildState) RecordEdit() {
	s.editBudget.Add(1)
}

// EditsUsed returns how much of the edit budget is currently consumed.
func (s *GuildState) EditsUsed() int {
	return s.editBudget.Total()
}

// Sweep prunes every window and reports whether the state has seen no
// activity since cutoff.
func (s *GuildState) Sweep(cutoff time.Time) bool {
	s.joins.Sweep()
	s.challenged.Sweep()
	s.kicked.Sweep()
	s.deleted.Sweep()
	s.bulkInFlight.Sweep()
	s.guildStrikes.Sweep()
	s.editBudget.Sweep()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pruneMessages(now)

	live := s.mitigations[:0]
	for _, m := range s.mitigations {
		if !m.Expired(now) {
			live = append(live, m)
		}
	}
	s.mitigations = live

	for userID, counter := range s.userStrikes {
		if counter.Sweep() {
			delete(s.userStrikes, userID)
		}
	}

	return s.lastEvent.Before(cutoff)
}
