package raid

import (
	"fmt"
	"time"

	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/robalyx/sentinel/internal/telemetry"
	"go.uber.org/zap"
)

// TrackFunc is the telemetry seam; one raid-triggered record is
// emitted per victim. Tracking is fire-and-forget and must never block.
type TrackFunc func(record *telemetry.Record)

// Detector watches membership joins for raid bursts. The recent-joiner
// window lives on the guild state; the detector only decides.
type Detector struct {
	config *config.Raid
	track  TrackFunc
	logger *zap.Logger
}

// New creates the raid detector. A nil track disables telemetry.
func New(cfg *config.Raid, track TrackFunc, logger *zap.Logger) *Detector {
	if track == nil {
		track = func(*telemetry.Record) {}
	}

	return &Detector{
		config: cfg,
		track:  track,
		logger: logger.Named("raid"),
	}
}

// OnMemberJoin records the joiner and challenges the matching set when
// the guild's join limit is exceeded. Returns nil when the join is
// unremarkable.
func (d *Detector) OnMemberJoin(guild *state.GuildState, member *event.Member) []action.Action {
	guildCfg := guild.Config()
	if guildCfg == nil || !guildCfg.RaidEnabled {
		return nil
	}

	entitlement := guild.Entitlement()
	if entitlement == nil || !entitlement.RaidProtection {
		return nil
	}

	limit := guildCfg.RaidLimit
	if limit <= 0 {
		limit = d.config.DefaultLimit
	}

	windowSecs := guildCfg.RaidWindow
	if windowSecs <= 0 {
		windowSecs = d.config.DefaultWindow
	}

	joiners := guild.RecordJoin(member, time.Duration(windowSecs)*time.Second)

	// Optional narrowing: account-farm raids cluster tightly by account
	// age, so restrict the candidate set to accounts created within the
	// configured distance of the trigger's creation time.
	matching := joiners
	if guildCfg.RaidMode > 0 {
		maxDistance := time.Duration(guildCfg.RaidMode) * 24 * time.Hour
		matching = make([]*event.Member, 0, len(joiners))

		for _, joiner := range joiners {
			distance := member.AccountCreatedAt.Sub(joiner.AccountCreatedAt)
			if distance < 0 {
				distance = -distance
			}

			if distance <= maxDistance {
				matching = append(matching, joiner)
			}
		}
	}

	if len(matching) <= limit {
		return nil
	}

	d.logger.Info("Raid detected",
		zap.Uint64("guild_id", uint64(guild.GuildID)),
		zap.Int("matching", len(matching)),
		zap.Int("limit", limit),
		zap.Int("mode", guildCfg.RaidMode))

	reason := fmt.Sprintf("raid detected (%d joins within %ds)", len(matching), windowSecs)
	actions := make([]action.Action, 0, len(matching)+1)

	// Challenge everyone in the matching set, including members that
	// joined before the limit tripped. The per-burst marker keeps
	// overlapping triggers from the same raid from double-punishing.
	for _, victim := range matching {
		if !guild.TryMarkKicked(victim.UserID) {
			continue
		}

		actions = append(actions, action.Challenge{
			GuildID:  guild.GuildID,
			UserID:   victim.UserID,
			Username: victim.Username,
			Reason:   reason,
			Hint:     action.HintNoTimeout | action.HintNoRole | action.HintPreferKick,
		})

		d.track(&telemetry.Record{
			Name:    "raid_triggered",
			GuildID: uint64(guild.GuildID),
			UserID:  uint64(victim.UserID),
			Payload: map[string]any{
				"matching": len(matching),
				"limit":    limit,
			},
		})
	}

	if len(actions) == 0 {
		return nil
	}

	actions = append(actions, action.Log{
		GuildID: guild.GuildID,
		Message: fmt.Sprintf("raid response challenged %d members", len(actions)),
		Reason:  reason,
	})

	return actions
}

// OnMemberLeave drops the member from the joiner window so a kicked
// raider does not keep counting against the limit.
func (d *Detector) OnMemberLeave(guild *state.GuildState, member *event.Member) {
	guild.RemoveJoin(member.UserID)
}
