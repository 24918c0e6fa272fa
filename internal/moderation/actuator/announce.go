package actuator

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"go.uber.org/zap"
)

// announce posts a transient notice in the affected channel. During an
// active incident the guild danger score is already high and more
// channel noise helps nobody, so announcements are muted entirely.
func (a *Actuator) announce(ctx context.Context, ann action.Announcement) {
	guild := a.states.GetOrCreate(ann.GuildID)

	danger := guild.GuildStrikes() / a.config.DangerGuildDivisor
	if danger >= a.config.AnnouncementMuteDanger {
		a.logger.Debug("Announcement muted",
			zap.Uint64("guild_id", uint64(ann.GuildID)),
			zap.Int("danger", danger))

		return
	}

	perms, err := a.platform.ChannelPermissions(ctx, ann.GuildID, ann.ChannelID)
	if err != nil {
		a.logger.Warn("Announcement permission check failed",
			zap.Uint64("channel_id", uint64(ann.ChannelID)),
			zap.Error(err))

		return
	}

	allowed := perms.Has(discord.PermissionAdministrator) ||
		(perms.Has(discord.PermissionViewChannel) &&
			perms.Has(discord.PermissionSendMessages) &&
			perms.Has(discord.PermissionEmbedLinks))
	if !allowed {
		return
	}

	messageID, err := a.platform.SendMessage(ctx, ann.ChannelID, discord.MessageCreate{Content: ann.Message})
	if err != nil {
		if !a.platform.IsNotFound(err) {
			a.logger.Warn("Announcement failed",
				zap.Uint64("channel_id", uint64(ann.ChannelID)),
				zap.Error(err))
		}

		return
	}

	if ann.TTL <= 0 {
		return
	}

	// Self-delete re-enters the regular delete path.
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(ann.TTL):
			a.Submit(action.Delete{
				GuildID:   ann.GuildID,
				ChannelID: ann.ChannelID,
				MessageID: messageID,
				Reason:    "announcement expired",
			})
		}
	}()
}
