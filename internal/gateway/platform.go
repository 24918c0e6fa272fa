package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/actuator"
)

// ErrGuildNotCached reports a guild the client has no snapshot for,
// which should not happen for guilds producing events.
var ErrGuildNotCached = errors.New("guild not cached")

// platformAPI implements the actuator's outbound surface over the
// disgo REST client, reading permission and hierarchy data from the
// gateway caches.
type platformAPI struct {
	client bot.Client
}

func (p *platformAPI) Profile(ctx context.Context, guildID, userID snowflake.ID) (*actuator.Profile, error) {
	guild, found := p.client.Caches().Guild(guildID)
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrGuildNotCached, guildID)
	}

	if guild.OwnerID == userID {
		return &actuator.Profile{TargetIsOwner: true}, nil
	}

	self, err := p.member(ctx, guildID, p.client.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bot member: %w", err)
	}

	target, err := p.member(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target member: %w", err)
	}

	perms := p.client.Caches().MemberPermissions(self)

	return &actuator.Profile{
		HasAdmin:         perms.Has(discord.PermissionAdministrator),
		HasTimeout:       perms.Has(discord.PermissionModerateMembers),
		HasRole:          perms.Has(discord.PermissionManageRoles),
		HasKick:          perms.Has(discord.PermissionKickMembers),
		HasBan:           perms.Has(discord.PermissionBanMembers),
		AboveInHierarchy: p.topRolePosition(guildID, self) > p.topRolePosition(guildID, target),
	}, nil
}

func (p *platformAPI) ChannelPermissions(ctx context.Context, guildID, channelID snowflake.ID) (discord.Permissions, error) {
	channel, found := p.client.Caches().Channel(channelID)
	if !found {
		return discord.PermissionsNone, fmt.Errorf("channel %d not cached", channelID)
	}

	self, err := p.member(ctx, guildID, p.client.ID())
	if err != nil {
		return discord.PermissionsNone, fmt.Errorf("failed to resolve bot member: %w", err)
	}

	return p.client.Caches().MemberPermissionsInChannel(channel, self), nil
}

func (p *platformAPI) DeleteMessage(ctx context.Context, channelID, messageID snowflake.ID, reason string) error {
	return p.client.Rest().DeleteMessage(channelID, messageID, rest.WithCtx(ctx), rest.WithReason(reason))
}

func (p *platformAPI) BulkDeleteMessages(ctx context.Context, channelID snowflake.ID, messageIDs []snowflake.ID, reason string) error {
	return p.client.Rest().BulkDeleteMessages(channelID, messageIDs, rest.WithCtx(ctx), rest.WithReason(reason))
}

func (p *platformAPI) TimeoutMember(ctx context.Context, guildID, userID snowflake.ID, until time.Time, reason string) error {
	_, err := p.client.Rest().UpdateMember(guildID, userID, discord.MemberUpdate{
		CommunicationDisabledUntil: json.NewNullablePtr(until),
	}, rest.WithCtx(ctx), rest.WithReason(reason))

	return err
}

func (p *platformAPI) AddRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	return p.client.Rest().AddMemberRole(guildID, userID, roleID, rest.WithCtx(ctx), rest.WithReason(reason))
}

func (p *platformAPI) KickMember(ctx context.Context, guildID, userID snowflake.ID, reason string) error {
	return p.client.Rest().RemoveMember(guildID, userID, rest.WithCtx(ctx), rest.WithReason(reason))
}

func (p *platformAPI) BanMember(ctx context.Context, guildID, userID snowflake.ID, deleteMessages time.Duration, reason string) error {
	return p.client.Rest().AddBan(guildID, userID, deleteMessages, rest.WithCtx(ctx), rest.WithReason(reason))
}

func (p *platformAPI) SetNickname(ctx context.Context, guildID, userID snowflake.ID, nick, reason string) error {
	_, err := p.client.Rest().UpdateMember(guildID, userID, discord.MemberUpdate{
		Nick: &nick,
	}, rest.WithCtx(ctx), rest.WithReason(reason))

	return err
}

func (p *platformAPI) SendMessage(ctx context.Context, channelID snowflake.ID, message discord.MessageCreate) (snowflake.ID, error) {
	sent, err := p.client.Rest().CreateMessage(channelID, message, rest.WithCtx(ctx))
	if err != nil {
		return 0, err
	}

	return sent.ID, nil
}

func (p *platformAPI) SetChannelRatelimit(ctx context.Context, channelID snowflake.ID, seconds int, reason string) error {
	_, err := p.client.Rest().UpdateChannel(channelID, discord.GuildTextChannelUpdate{
		RateLimitPerUser: &seconds,
	}, rest.WithCtx(ctx), rest.WithReason(reason))

	return err
}

func (p *platformAPI) IsNotFound(err error) bool {
	var restErr *rest.Error
	if !errors.As(err, &restErr) {
		return false
	}

	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// member resolves a guild member, falling back to REST when the cache
// misses.
func (p *platformAPI) member(ctx context.Context, guildID, userID snowflake.ID) (discord.Member, error) {
	if member, found := p.client.Caches().Member(guildID, userID); found {
		return member, nil
	}

	member, err := p.client.Rest().GetMember(guildID, userID, rest.WithCtx(ctx))
	if err != nil {
		return discord.Member{}, err
	}

	return *member, nil
}

// topRolePosition returns the highest role position a member holds.
// Members with only the everyone role sit at position zero.
func (p *platformAPI) topRolePosition(guildID snowflake.ID, member discord.Member) int {
	top := 0

	for _, roleID := range member.RoleIDs {
		role, found := p.client.Caches().Role(guildID, roleID)
		if found && role.Position > top {
			top = role.Position
		}
	}

	return top
}
