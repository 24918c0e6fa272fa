package actuator

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLogGuild(states *state.Manager, logChannel uint64) {
	states.GetOrCreate(snowflake.ID(1)).SetConfig(
		&storage.GuildConfig{LogChannelID: logChannel},
		&storage.Entitlement{},
	)
}

func TestLogBatchCoalescesPerGuild(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)
	setupLogGuild(states, 77)

	referenced := &event.Message{
		ID:           snowflake.ID(5),
		ChannelID:    snowflake.ID(10),
		GuildID:      snowflake.ID(1),
		AuthorID:     snowflake.ID(100),
		AuthorName:   "spammer",
		Content:      "buy cheap nitro",
		StickerNames: []string{"wave"},
		CreatedAt:    time.Now(),
	}

	a.logs.enqueue(action.Log{GuildID: snowflake.ID(1), Message: "message deleted", Reason: "spam", Referenced: referenced})
	a.logs.enqueue(action.Log{GuildID: snowflake.ID(1), Message: "**kick** applied to **spammer**", Reason: "spam"})

	a.logs.flush(context.Background())

	require.Equal(t, []string{"send"}, platform.recorded())
	require.Len(t, platform.sent, 1)

	sent := platform.sent[0]
	assert.Contains(t, sent.Content, "message deleted")
	assert.Contains(t, sent.Content, "kick")

	// The first referenced message becomes a rich preview
	require.Len(t, sent.Embeds, 1)
	assert.Contains(t, sent.Embeds[0].Description, "buy cheap nitro")
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)
	setupLogGuild(states, 77)

	// 200 three-byte runes: the byte limit of 500 lands mid-rune
	referenced := &event.Message{
		ID:         snowflake.ID(5),
		ChannelID:  snowflake.ID(10),
		GuildID:    snowflake.ID(1),
		AuthorID:   snowflake.ID(100),
		AuthorName: "spammer",
		Content:    strings.Repeat("緊", 200),
		CreatedAt:  time.Now(),
	}

	a.logs.enqueue(action.Log{GuildID: snowflake.ID(1), Message: "message deleted", Reason: "spam", Referenced: referenced})
	a.logs.flush(context.Background())

	require.Len(t, platform.sent, 1)
	require.Len(t, platform.sent[0].Embeds, 1)

	description := platform.sent[0].Embeds[0].Description
	assert.True(t, utf8.ValidString(description))
	assert.True(t, strings.HasSuffix(description, "…"))
	assert.Less(t, len(description), len(referenced.Content))
}

func TestLogOverflowRollsToNextTick(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)
	setupLogGuild(states, 77)

	big := strings.Repeat("x", 1500)
	a.logs.enqueue(action.Log{GuildID: snowflake.ID(1), Message: big, Reason: "first"})
	a.logs.enqueue(action.Log{GuildID: snowflake.ID(1), Message: big, Reason: "second"})

	a.logs.flush(context.Background())
	require.Len(t, platform.sent, 1)
	assert.Contains(t, platform.sent[0].Content, "first")

	a.logs.flush(context.Background())
	require.Len(t, platform.sent, 2)
	assert.Contains(t, platform.sent[1].Content, "second")
}

func TestLogWithoutChannelDropsEntries(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)
	setupLogGuild(states, 0)

	a.logs.enqueue(action.Log{GuildID: snowflake.ID(1), Message: "message deleted", Reason: "spam"})

	a.logs.flush(context.Background())

	assert.Empty(t, platform.recorded())

	a.logs.mu.Lock()
	defer a.logs.mu.Unlock()
	assert.Empty(t, a.logs.pending[snowflake.ID(1)])
}

func TestAnnouncementMutedDuringIncident(t *testing.T) {
	t.Parallel()

	a, platform, states := setupActuator(t)

	// Guild strikes 24 put the danger score at the mute threshold
	states.GetOrCreate(snowflake.ID(1)).AddStrikes(snowflake.ID(200), 24)

	a.announce(context.Background(), action.Announcement{
		GuildID:   snowflake.ID(1),
		ChannelID: snowflake.ID(10),
		Message:   "spam detected",
	})

	assert.Empty(t, platform.recorded())
}

func TestAnnouncementSentWhenCalm(t *testing.T) {
	t.Parallel()

	a, platform, _ := setupActuator(t)

	a.announce(context.Background(), action.Announcement{
		GuildID:   snowflake.ID(1),
		ChannelID: snowflake.ID(10),
		Message:   "spam detected",
	})

	assert.Equal(t, []string{"send"}, platform.recorded())
}
