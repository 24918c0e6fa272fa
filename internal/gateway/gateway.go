package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/actuator"
	"github.com/robalyx/sentinel/internal/moderation/engine"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"go.uber.org/zap"
)

// Gateway owns the platform connection. It translates raw gateway
// events into engine records and exposes the REST surface the actuator
// executes against.
type Gateway struct {
	client bot.Client
	engine *engine.Engine
	logger *zap.Logger
}

// New configures the client with the moderation intents and listeners.
// The connection is not opened until Open is called.
func New(token string, eng *engine.Engine, logger *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		engine: eng,
		logger: logger.Named("gateway"),
	}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildMembers,
				gateway.IntentGuildModeration,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(
				cache.FlagGuilds | cache.FlagChannels | cache.FlagRoles | cache.FlagMembers,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnGuildMessageCreate: g.onMessageCreate,
			OnGuildMessageUpdate: g.onMessageUpdate,
			OnGuildMemberJoin:    g.onMemberJoin,
			OnGuildMemberLeave:   g.onMemberLeave,
			OnGuildBan:           g.onBan,
			OnGuildUnban:         g.onUnban,
			OnGuildLeave:         g.onGuildLeave,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	g.client = client

	return g, nil
}

// Open connects to the gateway and starts delivering events.
func (g *Gateway) Open(ctx context.Context) error {
	g.logger.Info("Opening gateway connection")
	return g.client.OpenGateway(ctx)
}

// Close shuts the connection down, letting in-flight events drain.
func (g *Gateway) Close(ctx context.Context) {
	g.logger.Info("Closing gateway connection")
	g.client.Close(ctx)
}

// Platform returns the actuator's REST surface backed by this client.
func (g *Gateway) Platform() actuator.Platform {
	return &platformAPI{client: g.client}
}

func (g *Gateway) onMessageCreate(e *events.GuildMessageCreate) {
	g.engine.Dispatch(&event.Event{
		Type:       event.TypeMessageCreate,
		GuildID:    e.GuildID,
		Message:    convertMessage(e.GuildID, e.ChannelID, e.Message),
		ReceivedAt: time.Now(),
	})
}

func (g *Gateway) onMessageUpdate(e *events.GuildMessageUpdate) {
	g.engine.Dispatch(&event.Event{
		Type:       event.TypeMessageUpdate,
		GuildID:    e.GuildID,
		Message:    convertMessage(e.GuildID, e.ChannelID, e.Message),
		ReceivedAt: time.Now(),
	})
}

func (g *Gateway) onMemberJoin(e *events.GuildMemberJoin) {
	g.engine.Dispatch(&event.Event{
		Type:       event.TypeMemberJoin,
		GuildID:    e.GuildID,
		Member:     convertMember(e.GuildID, e.Member),
		ReceivedAt: time.Now(),
	})
}

func (g *Gateway) onMemberLeave(e *events.GuildMemberLeave) {
	g.engine.Dispatch(&event.Event{
		Type:    event.TypeMemberLeave,
		GuildID: e.GuildID,
		Member: &event.Member{
			GuildID:          e.GuildID,
			UserID:           e.User.ID,
			Username:         e.User.Username,
			AccountCreatedAt: e.User.ID.Time(),
		},
		ReceivedAt: time.Now(),
	})
}

func (g *Gateway) onBan(e *events.GuildBan) {
	g.engine.Dispatch(&event.Event{
		Type:       event.TypeBanCreate,
		GuildID:    e.GuildID,
		ReceivedAt: time.Now(),
	})
}

func (g *Gateway) onUnban(e *events.GuildUnban) {
	g.engine.Dispatch(&event.Event{
		Type:       event.TypeBanDelete,
		GuildID:    e.GuildID,
		ReceivedAt: time.Now(),
	})
}

func (g *Gateway) onGuildLeave(e *events.GuildLeave) {
	g.engine.Dispatch(&event.Event{
		Type:       event.TypeGuildLeave,
		GuildID:    e.GuildID,
		ReceivedAt: time.Now(),
	})
}

func convertMessage(guildID, channelID snowflake.ID, msg discord.Message) *event.Message {
	sizes := make([]int, 0, len(msg.Attachments))
	for _, attachment := range msg.Attachments {
		sizes = append(sizes, attachment.Size)
	}

	stickerIDs := make([]snowflake.ID, 0, len(msg.StickerItems))
	stickerNames := make([]string, 0, len(msg.StickerItems))

	for _, sticker := range msg.StickerItems {
		stickerIDs = append(stickerIDs, sticker.ID)
		stickerNames = append(stickerNames, sticker.Name)
	}

	return &event.Message{
		ID:              msg.ID,
		ChannelID:       channelID,
		GuildID:         guildID,
		AuthorID:        msg.Author.ID,
		AuthorName:      msg.Author.Username,
		AuthorBot:       msg.Author.Bot,
		Content:         msg.Content,
		AttachmentSizes: sizes,
		StickerIDs:      stickerIDs,
		StickerNames:    stickerNames,
		CreatedAt:       msg.CreatedAt,
	}
}

func convertMember(guildID snowflake.ID, member discord.Member) *event.Member {
	return &event.Member{
		GuildID:          guildID,
		UserID:           member.User.ID,
		Username:         member.User.Username,
		AccountCreatedAt: member.User.ID.Time(),
		JoinedAt:         member.JoinedAt,
	}
}
