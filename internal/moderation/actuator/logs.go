package actuator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// previewContentLimit truncates quoted message content in the preview
// embed so one giant spam message cannot dominate the log channel.
const previewContentLimit = 500

// logBatcher coalesces audit lines per guild into one outbound message
// per tick. Overflow past the platform's size limit rolls to the next
// tick; the first referenced deleted message in a batch is rendered as
// a rich preview embed.
type logBatcher struct {
	config   *config.Actuator
	platform Platform
	states   *state.Manager
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[snowflake.ID][]action.Log
}

func newLogBatcher(cfg *config.Actuator, platform Platform, states *state.Manager, logger *zap.Logger) *logBatcher {
	return &logBatcher{
		config:   cfg,
		platform: platform,
		states:   states,
		logger:   logger.Named("logs"),
		pending:  make(map[snowflake.ID][]action.Log),
	}
}

func (b *logBatcher) enqueue(entry action.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[entry.GuildID] = append(b.pending[entry.GuildID], entry)
}

func (b *logBatcher) run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(b.config.LogTick) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

func (b *logBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	batches := b.pending
	b.pending = make(map[snowflake.ID][]action.Log)
	b.mu.Unlock()

	for guildID, entries := range batches {
		leftover := b.deliver(ctx, guildID, entries)
		if len(leftover) == 0 {
			continue
		}

		b.mu.Lock()
		b.pending[guildID] = append(leftover, b.pending[guildID]...)
		b.mu.Unlock()
	}
}

// deliver sends one message for the guild and returns entries that did
// not fit. Guilds without a configured log channel drop their entries.
func (b *logBatcher) deliver(ctx context.Context, guildID snowflake.ID, entries []action.Log) []action.Log {
	guild, exists := b.states.Get(guildID)
	if !exists {
		return nil
	}

	guildCfg := guild.Config()
	if guildCfg == nil || guildCfg.LogChannelID == 0 {
		return nil
	}

	var (
		content  strings.Builder
		preview  *event.Message
		consumed int
	)

	for _, entry := range entries {
		line := fmt.Sprintf("• %s — %s\n", entry.Message, entry.Reason)
		if content.Len()+len(line) > b.config.LogMessageLimit {
			break
		}

		content.WriteString(line)

		if preview == nil && entry.Referenced != nil {
			preview = entry.Referenced
		}

		consumed++
	}

	if consumed == 0 {
		// A single oversized entry would wedge the queue forever.
		b.logger.Warn("Dropping oversized log entry",
			zap.Uint64("guild_id", uint64(guildID)))

		return entries[1:]
	}

	message := discord.MessageCreate{Content: strings.TrimSuffix(content.String(), "\n")}
	if preview != nil {
		message.Embeds = []discord.Embed{buildPreviewEmbed(preview)}
	}

	_, err := b.platform.SendMessage(ctx, snowflake.ID(guildCfg.LogChannelID), message)
	if err != nil {
		if !b.platform.IsNotFound(err) {
			b.logger.Warn("Log delivery failed",
				zap.Uint64("guild_id", uint64(guildID)),
				zap.Error(err))
		}

		return nil
	}

	return entries[consumed:]
}

// buildPreviewEmbed renders a deleted message's snapshot: author,
// channel, content and the first sticker if any.
func buildPreviewEmbed(msg *event.Message) discord.Embed {
	content := msg.Content
	if len(content) > previewContentLimit {
		// Cut on a rune boundary so the preview never carries a torn
		// multi-byte sequence
		cut := previewContentLimit
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}

		content = content[:cut] + "…"
	}

	if content == "" {
		content = "*(no text content)*"
	}

	builder := discord.NewEmbedBuilder().
		SetTitle("Deleted message").
		SetDescription(content).
		AddField("Author", fmt.Sprintf("%s (<@%d>)", msg.AuthorName, msg.AuthorID), true).
		AddField("Channel", fmt.Sprintf("<#%d>", msg.ChannelID), true)

	if len(msg.StickerNames) > 0 {
		builder.AddField("Sticker", msg.StickerNames[0], true)
	}

	return builder.Build()
}
