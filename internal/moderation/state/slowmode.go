package state

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// SlowmodeBuckets is the depth of the rolling per-channel message-count
// history, one bucket per controller tick.
const SlowmodeBuckets = 6

// SlowmodeChannel tracks one channel's rolling message counts for the
// adaptive slowmode controller.
type SlowmodeChannel struct {
	mu sync.Mutex

	// Ratelimit currently applied to the channel, in seconds.
	current int
	// Rolling count history, oldest first.
	buckets [SlowmodeBuckets]int
	// Messages seen during the in-flight tick.
	pending int
	// Set when the emergency path fired during this tick so it cannot
	// re-trigger until the next shift.
	emergencyFired bool
}

// Slowmode returns the channel's slowmode state, creating it on first use.
func (s *GuildState) Slowmode(channelID snowflake.ID) *SlowmodeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.slowmode[channelID]
	if !exists {
		channel = &SlowmodeChannel{}
		s.slowmode[channelID] = channel
	}

	return channel
}

// EachSlowmode calls fn for every tracked channel.
func (s *GuildState) EachSlowmode(fn func(channelID snowflake.ID, channel *SlowmodeChannel)) {
	s.mu.Lock()
	channels := make(map[snowflake.ID]*SlowmodeChannel, len(s.slowmode))
	for id, ch := range s.slowmode {
		channels[id] = ch
	}
	s.mu.Unlock()

	for id, ch := range channels {
		fn(id, ch)
	}
}

// OnMessage counts one message into the in-flight tick and returns the
// pending count.
func (c *SlowmodeChannel) OnMessage() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending++

	return c.pending
}

// Shift closes the in-flight tick: the pending count becomes the newest
// bucket, the oldest bucket falls off, and the emergency flag resets.
// Returns the closed tick's count and a copy of the full history.
func (c *SlowmodeChannel) Shift() (int, [SlowmodeBuckets]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.buckets[:], c.buckets[1:])
	c.buckets[SlowmodeBuckets-1] = c.pending

	closed := c.pending
	c.pending = 0
	c.emergencyFired = false

	return closed, c.buckets
}

// Current returns the ratelimit the controller last applied.
func (c *SlowmodeChannel) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// SetCurrent records the ratelimit the controller just applied.
func (c *SlowmodeChannel) SetCurrent(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = seconds
}

// TryEmergency marks the emergency path as fired for this tick.
// Returns false if it already fired since the last shift.
func (c *SlowmodeChannel) TryEmergency() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.emergencyFired {
		return false
	}

	c.emergencyFired = true

	return true
}
