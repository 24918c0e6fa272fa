package spam

import (
	"fmt"
	"time"

	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// AnnouncementTTL is how long the transient channel notice posted for a
// continuing mitigation stays up before deleting itself.
const AnnouncementTTL = 30 * time.Second

// Detector runs the ordered spam rule set against each guild message.
// Detection is stateless apart from the read-only comparison window;
// continuations of a detected burst are re-matched through the guild's
// active mitigations instead of re-running the full pass.
type Detector struct {
	config *config.Spam
	rules  []Rule
	logger *zap.Logger
}

// New creates the spam detector with its static, cost-ordered rule set.
func New(cfg *config.Spam, logger *zap.Logger) *Detector {
	mitigationTTL := time.Duration(cfg.MitigationTTL) * time.Second

	return &Detector{
		config: cfg,
		logger: logger.Named("spam"),
		rules: []Rule{
			// One-shot cross-channel repeat is the cheapest check and
			// runs first.
			{Name: RuleRepeat, TTL: 0, Detection: detectRepeat},
			{Name: RuleSticker, TTL: mitigationTTL, BlocksOnRepeat: true, Detection: detectStickers},
			{Name: RuleAttachment, TTL: mitigationTTL, BlocksOnRepeat: true, Detection: detectAttachments},
			{Name: RuleSimilarity, TTL: mitigationTTL, BlocksOnRepeat: true, Detection: detectSimilarity},
			{Name: RuleTokens, TTL: mitigationTTL, BlocksOnRepeat: true, Detection: detectTokens},
		},
	}
}

// Process checks one message, consulting active mitigations before the
// full rule set. Returns the action set of the first rule that fires,
// or nil.
func (d *Detector) Process(guild *state.GuildState, msg *event.Message) []action.Action {
	guildCfg := guild.Config()
	if guildCfg == nil || !guildCfg.AntispamEnabled {
		return nil
	}

	// Fast path: a message continuing a known abuse instance re-triggers
	// the same rule without recomputing statistics.
	for _, mitigation := range guild.ActiveMitigations() {
		if !mitigation.Data.Matches(msg) {
			continue
		}

		guild.TouchMitigation(mitigation.ID)
		d.logger.Debug("Message matched active mitigation",
			zap.Uint64("guild_id", uint64(guild.GuildID)),
			zap.String("rule", mitigation.RuleName),
			zap.Uint64("message_id", uint64(msg.ID)))

		return d.buildActions(msg, mitigation.RuleName, nil, mitigation.BlocksOnRepeat, true)
	}

	window := guild.RecentMessages()

	for _, rule := range d.rules {
		match := rule.Detection(msg, window, d.config, guildCfg)
		if match == nil {
			continue
		}

		d.logger.Info("Spam rule matched",
			zap.Uint64("guild_id", uint64(guild.GuildID)),
			zap.String("rule", rule.Name),
			zap.Uint64("author_id", uint64(msg.AuthorID)),
			zap.Int("matched", len(match.Matched)))

		continuing := rule.TTL > 0
		if continuing {
			guild.AddMitigation(&state.ActiveMitigation{
				ID:             msg.ID,
				RuleName:       rule.Name,
				Data:           match.Data,
				LastTriggered:  time.Now(),
				TTL:            rule.TTL,
				BlocksOnRepeat: rule.BlocksOnRepeat,
			})
		}

		return d.buildActions(msg, rule.Name, match.Matched, false, continuing)
	}

	return nil
}

// buildActions assembles the fixed action set of a detection: delete
// the trigger (and matched priors for continuing mitigations),
// challenge the author, log, and announce for non-one-shot rules.
func (d *Detector) buildActions(
	msg *event.Message, ruleName string, matched []*event.Message, soft, continuing bool,
) []action.Action {
	reason := fmt.Sprintf("spam detected (%s)", ruleName)
	actions := make([]action.Action, 0, len(matched)+4)

	actions = append(actions, action.Delete{
		GuildID:    msg.GuildID,
		ChannelID:  msg.ChannelID,
		MessageID:  msg.ID,
		UserID:     msg.AuthorID,
		Reason:     reason,
		Referenced: msg,
	})

	if continuing {
		for _, prior := range matched {
			actions = append(actions, action.Delete{
				GuildID:    prior.GuildID,
				ChannelID:  prior.ChannelID,
				MessageID:  prior.ID,
				UserID:     prior.AuthorID,
				Reason:     reason,
				Referenced: prior,
			})
		}
	}

	actions = append(actions,
		action.Challenge{
			GuildID:  msg.GuildID,
			UserID:   msg.AuthorID,
			Username: msg.AuthorName,
			Block:    soft,
			Reason:   reason,
		},
		action.Log{
			GuildID: msg.GuildID,
			Message: fmt.Sprintf("%s flagged message %s from %s",
				ruleName, msg.ID, msg.AuthorName),
			Reason:     reason,
			Referenced: msg,
		},
	)

	if continuing {
		actions = append(actions, action.Announcement{
			GuildID:   msg.GuildID,
			ChannelID: msg.ChannelID,
			Message:   "Spam mitigation is active in this channel. Recent duplicate messages are being removed.",
			TTL:       AnnouncementTTL,
		})
	}

	return actions
}
