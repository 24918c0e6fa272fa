package event

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Type identifies the kind of platform occurrence an Event carries.
type Type string

const (
	TypeMessageCreate Type = "message_create"
	TypeMessageUpdate Type = "message_update"
	TypeMemberJoin    Type = "member_join"
	TypeMemberLeave   Type = "member_leave"
	TypeBanCreate     Type = "ban_create"
	TypeBanDelete     Type = "ban_delete"
	TypeGuildLeave    Type = "guild_leave"
)

// Message is an immutable snapshot of one chat message as received from
// the gateway. Events are never mutated after construction.
type Message struct {
	ID         snowflake.ID
	ChannelID  snowflake.ID
	GuildID    snowflake.ID
	AuthorID   snowflake.ID
	AuthorName string
	AuthorBot  bool
	Content    string
	// Byte sizes of attached files, one per attachment.
	AttachmentSizes []int
	StickerIDs      []snowflake.ID
	StickerNames    []string
	CreatedAt       time.Time
}

// Member is a snapshot of one guild member reference.
type Member struct {
	GuildID  snowflake.ID
	UserID   snowflake.ID
	Username string
	// When the account itself was created, derived from the snowflake.
	AccountCreatedAt time.Time
	JoinedAt         time.Time
}

// Event is one record from the inbound feed. Exactly one of Message and
// Member is set depending on Type; guild-scoped events with neither
// payload (guild-leave) carry only GuildID.
type Event struct {
	Type       Type
	GuildID    snowflake.ID
	Message    *Message
	Member     *Member
	ReceivedAt time.Time
}
