package spam

import (
	"sort"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/storage"
)

// Rule names, also used as the RuleName of active mitigations.
const (
	RuleSimilarity = "similarity"
	RuleTokens     = "token_overlap"
	RuleRepeat     = "exact_repeat"
	RuleSticker    = "sticker_repeat"
	RuleAttachment = "attachment_repeat"
)

// Match is a positive detection: the signature for future cheap
// re-matching plus the prior window messages that matched.
type Match struct {
	Data    state.MatchData
	Matched []*event.Message
}

// Rule is one detector descriptor. The rule set is static and ordered;
// Detection is the expensive full pass, Data.Matches the cheap re-match.
type Rule struct {
	Name string
	// TTL of the active mitigation; zero marks a one-shot rule.
	TTL time.Duration
	// BlocksOnRepeat downgrades mitigation re-match challenges to soft
	// blocks.
	BlocksOnRepeat bool
	Detection      func(msg *event.Message, window []*event.Message, cfg *config.Spam, guildCfg *storage.GuildConfig) *Match
}

// messageWeight is the mitigation weight of one window message.
// Exception channels are expected to be busy and count a fraction.
func messageWeight(msg *event.Message, cfg *config.Spam, guildCfg *storage.GuildConfig) float64 {
	if guildCfg.IsExceptionChannel(msg.ChannelID) {
		return cfg.ExceptionWeight
	}

	return 1.0
}

// similarityMatch re-flags messages whose content stays within the
// detected similarity ratio of the original.
type similarityMatch struct {
	base  string
	ratio float64
}

func (m similarityMatch) Matches(msg *event.Message) bool {
	return stringSimilarity(normalizeContent(msg.Content), m.base) >= m.ratio
}

// detectSimilarity accumulates a weighted similarity score per author
// and per guild against the comparison window and fires when either
// threshold is crossed.
func detectSimilarity(
	msg *event.Message, window []*event.Message, cfg *config.Spam, guildCfg *storage.GuildConfig,
) *Match {
	base := normalizeContent(msg.Content)
	if base == "" {
		return nil
	}

	var (
		userWeight  float64
		guildWeight float64
		matched     []*event.Message
	)

	for _, prior := range window {
		priorNorm := normalizeContent(prior.Content)
		if priorNorm == "" {
			continue
		}

		if stringSimilarity(base, priorNorm) < cfg.SimilarityRatio {
			continue
		}

		weight := messageWeight(prior, cfg, guildCfg)
		guildWeight += weight

		if prior.AuthorID == msg.AuthorID {
			userWeight += weight
		}

		matched = append(matched, prior)
	}

	if userWeight < cfg.SimilarityUserThreshold && guildWeight < cfg.SimilarityGuildThreshold {
		return nil
	}

	return &Match{
		Data:    similarityMatch{base: base, ratio: cfg.SimilarityRatio},
		Matched: matched,
	}
}

// tokenMatch re-flags messages that contain the surviving token
// intersection of the original burst.
type tokenMatch struct {
	signature map[string]struct{}
}

func (m tokenMatch) Matches(msg *event.Message) bool {
	return containsAll(tokenSet(msg.Content), m.signature)
}

// detectTokens intersects the new message's token set with every
// comparable prior message. A prior is comparable when its overlap
// score reaches the sample median; the surviving intersection becomes
// the mitigation's signature.
func detectTokens(
	msg *event.Message, window []*event.Message, cfg *config.Spam, guildCfg *storage.GuildConfig,
) *Match {
	candidate := tokenSet(msg.Content)
	if len(candidate) == 0 {
		return nil
	}

	type scored struct {
		msg    *event.Message
		tokens map[string]struct{}
		score  int
	}

	samples := make([]scored, 0, len(window))

	for _, prior := range window {
		tokens := tokenSet(prior.Content)
		if len(tokens) == 0 {
			continue
		}

		samples = append(samples, scored{
			msg:    prior,
			tokens: tokens,
			score:  overlapCount(candidate, tokens),
		})
	}

	if len(samples) < cfg.TokenMinMessages {
		return nil
	}

	// Sample median of the overlap scores
	scores := make([]int, len(samples))
	for i, s := range samples {
		scores[i] = s.score
	}

	sort.Ints(scores)
	median := scores[len(scores)/2]

	var (
		comparable int
		weight     float64
		matched    []*event.Message
	)

	for _, sample := range samples {
		if sample.score < median || sample.score == 0 {
			continue
		}

		candidate = intersect(candidate, sample.tokens)
		comparable++
		weight += messageWeight(sample.msg, cfg, guildCfg)
		matched = append(matched, sample.msg)
	}

	if comparable < cfg.TokenMinMessages || weight < cfg.TokenMinWeight || len(candidate) == 0 {
		return nil
	}

	return &Match{
		Data:    tokenMatch{signature: candidate},
		Matched: matched,
	}
}

// contentMatch re-flags literal repeats of the original content.
type contentMatch struct {
	content string
}

func (m contentMatch) Matches(msg *event.Message) bool {
	return msg.Content != "" && msg.Content == m.content
}

// detectRepeat fires when the same literal content appears across
// enough distinct channels.
func detectRepeat(
	msg *event.Message, window []*event.Message, cfg *config.Spam, _ *storage.GuildConfig,
) *Match {
	if msg.Content == "" {
		return nil
	}

	channels := map[snowflake.ID]struct{}{msg.ChannelID: {}}

	var matched []*event.Message

	for _, prior := range window {
		if prior.Content != msg.Content {
			continue
		}

		channels[prior.ChannelID] = struct{}{}

		matched = append(matched, prior)
	}

	if len(channels) < cfg.RepeatChannelCount {
		return nil
	}

	return &Match{
		Data:    contentMatch{content: msg.Content},
		Matched: matched,
	}
}

// stickerMatch re-flags messages carrying the detected sticker.
type stickerMatch struct {
	stickerID snowflake.ID
}

func (m stickerMatch) Matches(msg *event.Message) bool {
	for _, id := range msg.StickerIDs {
		if id == m.stickerID {
			return true
		}
	}

	return false
}

// detectStickers fires when any sticker of the new message has enough
// weighted occurrences across the window.
func detectStickers(
	msg *event.Message, window []*event.Message, cfg *config.Spam, guildCfg *storage.GuildConfig,
) *Match {
	for _, stickerID := range msg.StickerIDs {
		weight := messageWeight(msg, cfg, guildCfg)

		var matched []*event.Message

		for _, prior := range window {
			if !(stickerMatch{stickerID: stickerID}).Matches(prior) {
				continue
			}

			weight += messageWeight(prior, cfg, guildCfg)

			matched = append(matched, prior)
		}

		if weight >= cfg.StickerRepeatCount {
			return &Match{
				Data:    stickerMatch{stickerID: stickerID},
				Matched: matched,
			}
		}
	}

	return nil
}

// attachmentMatch re-flags messages carrying an attachment of the
// detected byte size.
type attachmentMatch struct {
	size int
}

func (m attachmentMatch) Matches(msg *event.Message) bool {
	for _, size := range msg.AttachmentSizes {
		if size == m.size {
			return true
		}
	}

	return false
}

// detectAttachments fires when any attachment byte size of the new
// message has enough weighted occurrences across the window.
func detectAttachments(
	msg *event.Message, window []*event.Message, cfg *config.Spam, guildCfg *storage.GuildConfig,
) *Match {
	for _, size := range msg.AttachmentSizes {
		if size == 0 {
			continue
		}

		weight := messageWeight(msg, cfg, guildCfg)

		var matched []*event.Message

		for _, prior := range window {
			if !(attachmentMatch{size: size}).Matches(prior) {
				continue
			}

			weight += messageWeight(prior, cfg, guildCfg)

			matched = append(matched, prior)
		}

		if weight >= cfg.AttachmentRepeatCount {
			return &Match{
				Data:    attachmentMatch{size: size},
				Matched: matched,
			}
		}
	}

	return nil
}
