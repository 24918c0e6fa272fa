package actuator

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Profile is the bot's capability snapshot against one target member,
// computed from role permission bitmasks and hierarchy positions.
type Profile struct {
	HasAdmin   bool
	HasTimeout bool
	HasRole    bool
	HasKick    bool
	HasBan     bool
	// AboveInHierarchy is true when the bot's top role sits above the
	// target's top role.
	AboveInHierarchy bool
	// TargetIsOwner marks the guild owner, who is never actionable.
	TargetIsOwner bool
}

// Actionable reports whether any punishment can apply to the target.
func (p *Profile) Actionable() bool {
	return !p.TargetIsOwner && p.AboveInHierarchy
}

// Platform is the outbound API surface the actuator executes against.
// Every call is fallible and rate-limited by the platform itself; the
// actuator's own gating exists to minimize rejected calls. Implemented
// over the gateway's REST client, mocked in tests.
type Platform interface {
	// Profile computes the bot's capability profile against a member.
	Profile(ctx context.Context, guildID, userID snowflake.ID) (*Profile, error)
	// ChannelPermissions returns the bot's effective permissions in a
	// channel, overwrites included.
	ChannelPermissions(ctx context.Context, guildID, channelID snowflake.ID) (discord.Permissions, error)

	DeleteMessage(ctx context.Context, channelID, messageID snowflake.ID, reason string) error
	BulkDeleteMessages(ctx context.Context, channelID snowflake.ID, messageIDs []snowflake.ID, reason string) error
	TimeoutMember(ctx context.Context, guildID, userID snowflake.ID, until time.Time, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error
	KickMember(ctx context.Context, guildID, userID snowflake.ID, reason string) error
	BanMember(ctx context.Context, guildID, userID snowflake.ID, deleteMessages time.Duration, reason string) error
	SetNickname(ctx context.Context, guildID, userID snowflake.ID, nick, reason string) error
	SendMessage(ctx context.Context, channelID snowflake.ID, message discord.MessageCreate) (snowflake.ID, error)
	SetChannelRatelimit(ctx context.Context, channelID snowflake.ID, seconds int, reason string) error
	// IsNotFound classifies an error as the expected target-already-gone
	// race, the one failure exempted from warning-level logging.
	IsNotFound(err error) bool
}
