package action

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/event"
)

// Hint constrains which ladder entries the actuator may consider for a
// challenge. Hints narrow the ladder; they never add entries the bot
// lacks permission for.
type Hint uint8

const (
	HintNone Hint = 0
	// HintNoTimeout removes both timeout entries from the ladder.
	HintNoTimeout Hint = 1 << iota
	// HintNoRole removes the role entry from the ladder.
	HintNoRole
	// HintNoKick removes the kick entry from the ladder.
	HintNoKick
	// HintNoBan removes the ban entry from the ladder.
	HintNoBan
	// HintPreferKick biases selection toward kick when both kick and
	// ban survive filtering.
	HintPreferKick
	// HintPreferBan drops kick when both kick and ban survive filtering.
	HintPreferBan
)

// Has reports whether h contains flag.
func (h Hint) Has(flag Hint) bool { return h&flag != 0 }

// Action is an intent produced by a detector. Actions carry no side
// effects themselves; only the actuator executes them.
type Action interface {
	isAction()
}

// Challenge asks the actuator to punish a user, with severity chosen by
// the escalation ladder.
type Challenge struct {
	GuildID  snowflake.ID
	UserID   snowflake.ID
	Username string
	// Block marks a soft check: strikes accumulate but the action is
	// suppressed while the danger score stays at zero.
	Block  bool
	Reason string
	Hint   Hint
}

// Delete asks the actuator to remove one message.
type Delete struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	MessageID snowflake.ID
	UserID    snowflake.ID
	Reason    string
	// Referenced carries the message snapshot for log previews.
	Referenced *event.Message
}

// Nickname asks the actuator to reset a member's nickname.
type Nickname struct {
	GuildID snowflake.ID
	UserID  snowflake.ID
	NewName string
	Reason  string
}

// Announcement asks the actuator to post a transient notice that
// deletes itself after TTL.
type Announcement struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	Message   string
	TTL       time.Duration
}

// ChannelRatelimit asks the actuator to set a channel's slowmode.
type ChannelRatelimit struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	Seconds   int
}

// Log asks the actuator to queue one audit line for the guild's log
// channel. Referenced, when set, is rendered as a rich preview on the
// batch that carries it.
type Log struct {
	GuildID    snowflake.ID
	Message    string
	Reason     string
	Referenced *event.Message
}

func (Challenge) isAction()        {}
func (Delete) isAction()           {}
func (Nickname) isAction()         {}
func (Announcement) isAction()     {}
func (ChannelRatelimit) isAction() {}
func (Log) isAction()              {}
