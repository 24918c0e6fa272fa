package state

import (
	"time"

	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/storage"
)

// ConfigLoaded reports whether a configuration snapshot newer than
// maxAge is available. Decisions are never made against missing
// configuration; events buffer until the first snapshot arrives.
func (s *GuildState) ConfigLoaded(maxAge time.Duration) bool {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	return s.config != nil && time.Since(s.configAt) <= maxAge
}

// Config returns the current configuration snapshot, or nil when none
// has been loaded yet.
func (s *GuildState) Config() *storage.GuildConfig {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	return s.config
}

// Entitlement returns the current entitlement snapshot, or nil.
func (s *GuildState) Entitlement() *storage.Entitlement {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	return s.entitlement
}

// SetConfig installs fresh configuration and entitlement snapshots and
// returns any events buffered while configuration was pending, in
// arrival order. The buffer is cleared.
func (s *GuildState) SetConfig(config *storage.GuildConfig, entitlement *storage.Entitlement) []*event.Event {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.config = config
	s.entitlement = entitlement
	s.configAt = time.Now()

	pending := s.pending
	s.pending = nil

	return pending
}

// BufferEvent queues an event while configuration loads. The buffer is
// bounded; once full the oldest event is dropped so a config outage
// cannot grow memory without bound. Returns false when a drop occurred.
func (s *GuildState) BufferEvent(evt *event.Event) bool {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if len(s.pending) >= s.pendingCap {
		s.pending = s.pending[1:]
		s.pending = append(s.pending, evt)

		return false
	}

	s.pending = append(s.pending, evt)

	return true
}
