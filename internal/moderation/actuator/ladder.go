package actuator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"go.uber.org/zap"
)

// ErrUnknownPunishment reports a ladder entry the executor does not
// recognize.
var ErrUnknownPunishment = errors.New("unknown punishment")

// Ladder entry punishments, most lenient first.
const (
	punishTimeoutShort = "timeout-30s"
	punishTimeoutLong  = "timeout-5m"
	punishRole         = "role"
	punishKick         = "kick"
	punishBan          = "ban"
)

const (
	timeoutShortDuration = 30 * time.Second
	timeoutLongDuration  = 5 * time.Minute
)

// challenge runs the escalation state machine for one challenge. It is
// terminal after exactly one of: suppressed, timeout, role, kick, ban,
// or a logged no-op when no ladder entry is executable.
func (a *Actuator) challenge(ctx context.Context, c action.Challenge) {
	guild := a.states.GetOrCreate(c.GuildID)

	userStrikes := guild.UserStrikes(c.UserID)
	guildStrikes := guild.GuildStrikes()

	danger := max(userStrikes/a.config.DangerUserDivisor, guildStrikes/a.config.DangerGuildDivisor)

	// Soft checks run one step behind hard challenges.
	if c.Block {
		danger--
	}

	if danger < 0 {
		danger = 0
	}

	worth := a.config.HardStrikeWorth
	if c.Block && danger == 0 {
		worth = a.config.SoftStrikeWorth
	}

	guild.AddStrikes(c.UserID, worth)

	// Low-severity soft triggers accumulate silently until they compound
	// into a real score.
	if c.Block && danger == 0 {
		a.logger.Debug("Soft challenge suppressed",
			zap.Uint64("guild_id", uint64(c.GuildID)),
			zap.Uint64("user_id", uint64(c.UserID)))

		return
	}

	profile, err := a.platform.Profile(ctx, c.GuildID, c.UserID)
	if err != nil {
		a.logFailure(ctx, c, err)
		return
	}

	ladder := a.buildLadder(guild, profile, c.Hint, guildStrikes)
	if len(ladder) == 0 {
		a.logs.enqueue(action.Log{
			GuildID: c.GuildID,
			Message: fmt.Sprintf("could not punish **%s**: no usable punishment", c.Username),
			Reason:  c.Reason,
		})

		return
	}

	if c.Hint.Has(action.HintPreferKick) {
		danger -= a.config.KickBias
	}

	index := danger
	if index < 0 {
		index = 0
	}

	if index >= len(ladder) {
		index = len(ladder) - 1
	}

	// Concurrent detector hits on the same burst collapse into one
	// enforcement action. The marker is taken only once a punishment is
	// about to run, so suppressed soft blocks and unactionable targets
	// never shadow a later challenge. The stripe lock serializes
	// same-key challenges, so check-then-mark cannot race.
	if !guild.TryMarkChallenged(c.UserID) {
		return
	}

	punishment := ladder[index]
	if err := a.execute(ctx, guild, c, punishment); err != nil {
		if a.platform.IsNotFound(err) {
			// Expected race with the target leaving on their own.
			a.logger.Debug("Challenge target already gone",
				zap.Uint64("guild_id", uint64(c.GuildID)),
				zap.Uint64("user_id", uint64(c.UserID)))
		} else {
			a.logFailure(ctx, c, err)
		}

		return
	}

	a.logger.Info("Challenge executed",
		zap.Uint64("guild_id", uint64(c.GuildID)),
		zap.Uint64("user_id", uint64(c.UserID)),
		zap.String("punishment", punishment),
		zap.Int("danger", danger))

	a.logs.enqueue(action.Log{
		GuildID: c.GuildID,
		Message: fmt.Sprintf("**%s** applied to **%s**", punishment, c.Username),
		Reason:  c.Reason,
	})
}

// buildLadder assembles the ordered punishment candidates, filtered by
// hints, the capability profile, the quarantine role and the guild's
// edit budget.
func (a *Actuator) buildLadder(
	guild *state.GuildState, profile *Profile, hint action.Hint, guildStrikes int,
) []string {
	if !profile.Actionable() {
		return nil
	}

	editsOK := guild.EditsUsed() < a.config.EditBudgetLimit

	var quarantineRole uint64
	if cfg := guild.Config(); cfg != nil {
		quarantineRole = cfg.QuarantineRoleID
	}

	ladder := make([]string, 0, 5)

	if !hint.Has(action.HintNoTimeout) && (profile.HasAdmin || profile.HasTimeout) && editsOK {
		ladder = append(ladder, punishTimeoutShort, punishTimeoutLong)
	}

	if !hint.Has(action.HintNoRole) && (profile.HasAdmin || profile.HasRole) && quarantineRole != 0 && editsOK {
		ladder = append(ladder, punishRole)
	}

	if !hint.Has(action.HintNoKick) && (profile.HasAdmin || profile.HasKick) {
		ladder = append(ladder, punishKick)
	}

	if !hint.Has(action.HintNoBan) && (profile.HasAdmin || profile.HasBan) {
		ladder = append(ladder, punishBan)
	}

	// A guild under sustained attack skips straight to bans.
	if guildStrikes >= a.config.BanOnlyThreshold && slices.Contains(ladder, punishBan) {
		return []string{punishBan}
	}

	if hint.Has(action.HintPreferBan) && slices.Contains(ladder, punishBan) {
		ladder = slices.DeleteFunc(ladder, func(entry string) bool { return entry == punishKick })
	}

	return ladder
}

// execute performs exactly one punishment and charges the edit budget
// for member-edit punishments.
func (a *Actuator) execute(ctx context.Context, guild *state.GuildState, c action.Challenge, punishment string) error {
	switch punishment {
	case punishTimeoutShort, punishTimeoutLong:
		duration := timeoutShortDuration
		if punishment == punishTimeoutLong {
			duration = timeoutLongDuration
		}

		guild.RecordEdit()

		return a.platform.TimeoutMember(ctx, c.GuildID, c.UserID, time.Now().Add(duration), c.Reason)
	case punishRole:
		guild.RecordEdit()

		roleID := snowflake.ID(guild.Config().QuarantineRoleID)

		return a.platform.AddRole(ctx, c.GuildID, c.UserID, roleID, c.Reason)
	case punishKick:
		return a.platform.KickMember(ctx, c.GuildID, c.UserID, c.Reason)
	case punishBan:
		return a.platform.BanMember(ctx, c.GuildID, c.UserID, 0, c.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPunishment, punishment)
	}
}

func (a *Actuator) logFailure(_ context.Context, c action.Challenge, err error) {
	a.logger.Warn("Challenge failed",
		zap.Uint64("guild_id", uint64(c.GuildID)),
		zap.Uint64("user_id", uint64(c.UserID)),
		zap.Error(err))

	a.logs.enqueue(action.Log{
		GuildID: c.GuildID,
		Message: fmt.Sprintf("could not punish **%s**: %s", c.Username, err),
		Reason:  c.Reason,
	})
}

// nickname resets a member's display name, charging the edit budget.
func (a *Actuator) nickname(ctx context.Context, n action.Nickname) {
	guild := a.states.GetOrCreate(n.GuildID)

	if guild.EditsUsed() >= a.config.EditBudgetLimit {
		a.logger.Debug("Nickname reset skipped, edit budget exhausted",
			zap.Uint64("guild_id", uint64(n.GuildID)))

		return
	}

	guild.RecordEdit()

	if err := a.platform.SetNickname(ctx, n.GuildID, n.UserID, n.NewName, n.Reason); err != nil {
		if !a.platform.IsNotFound(err) {
			a.logger.Warn("Nickname reset failed",
				zap.Uint64("guild_id", uint64(n.GuildID)),
				zap.Uint64("user_id", uint64(n.UserID)),
				zap.Error(err))
		}

		return
	}

	a.logs.enqueue(action.Log{
		GuildID: n.GuildID,
		Message: fmt.Sprintf("nickname reset for **%s**", n.NewName),
		Reason:  n.Reason,
	})
}
