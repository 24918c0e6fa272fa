package telemetry_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/sentinel/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrack(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	defer client.Close()

	tracker := telemetry.NewTracker(client, zap.NewNop())
	tracker.Track(t.Context(), &telemetry.Record{
		Name:    "raid_triggered",
		GuildID: 123,
		UserID:  456,
	})

	// One entry lands on the stream
	entries, err := client.Do(t.Context(),
		client.B().Xrange().Key(telemetry.StreamKey).Start("-").End("+").Build()).ToArray()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTrackSwallowsFailures(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	defer client.Close()

	// Kill the server; tracking must not panic or return an error path
	mr.Close()

	tracker := telemetry.NewTracker(client, zap.NewNop())
	assert.NotPanics(t, func() {
		tracker.Track(t.Context(), &telemetry.Record{Name: "noop", GuildID: 1})
	})
}
