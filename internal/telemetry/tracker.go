package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// StreamKey is the Redis stream receiving tracked events.
	StreamKey = "sentinel_events"

	// StreamMaxLen caps the stream so an absent consumer cannot grow it
	// without bound.
	StreamMaxLen = 100_000
)

// Record is one tracked occurrence. Payload contents are free-form and
// owned by the producing component.
type Record struct {
	Name      string         `json:"name"`
	GuildID   uint64         `json:"guildId"`
	UserID    uint64         `json:"userId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	TrackedAt time.Time      `json:"trackedAt"`
}

// Tracker appends event records to a capped Redis stream. Tracking is
// fire-and-forget: failures are logged and swallowed so the moderation
// pipeline is never blocked by the telemetry sink.
type Tracker struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewTracker creates a tracker over the given Redis client.
func NewTracker(client rueidis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{
		client: client,
		logger: logger.Named("telemetry"),
	}
}

// Track records one event. Safe to call from any goroutine.
func (t *Tracker) Track(ctx context.Context, record *Record) {
	if record.TrackedAt.IsZero() {
		record.TrackedAt = time.Now()
	}

	payload, err := sonic.Marshal(record)
	if err != nil {
		t.logger.Error("Failed to marshal telemetry record",
			zap.String("name", record.Name),
			zap.Error(err))

		return
	}

	err = t.client.Do(ctx, t.client.B().Xadd().
		Key(StreamKey).
		Maxlen().Almost().Threshold(strconv.Itoa(StreamMaxLen)).
		Id("*").
		FieldValue().FieldValue("record", string(payload)).
		Build()).Error()
	if err != nil {
		t.logger.Warn("Failed to track event",
			zap.String("name", record.Name),
			zap.Uint64("guild_id", record.GuildID),
			zap.Error(err))
	}
}
