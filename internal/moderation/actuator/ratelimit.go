package actuator

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"go.uber.org/zap"
)

// ratelimit applies a channel slowmode change inline. Changes are
// infrequent enough that queueing would only add latency.
func (a *Actuator) ratelimit(ctx context.Context, rl action.ChannelRatelimit) {
	perms, err := a.platform.ChannelPermissions(ctx, rl.GuildID, rl.ChannelID)
	if err != nil {
		a.logger.Warn("Ratelimit permission check failed",
			zap.Uint64("channel_id", uint64(rl.ChannelID)),
			zap.Error(err))

		return
	}

	if !perms.Has(discord.PermissionAdministrator) && !perms.Has(discord.PermissionManageChannels) {
		return
	}

	err = a.platform.SetChannelRatelimit(ctx, rl.ChannelID, rl.Seconds, "adaptive slowmode")
	if err != nil && !a.platform.IsNotFound(err) {
		a.logger.Warn("Ratelimit change failed",
			zap.Uint64("channel_id", uint64(rl.ChannelID)),
			zap.Int("seconds", rl.Seconds),
			zap.Error(err))
	}
}
