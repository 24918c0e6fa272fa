package slowmode

import (
	"math"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/event"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// Controller adjusts per-channel ratelimits from rolling message
// counts. OnMessage feeds the in-flight tick; Tick closes it and maps
// the history through a non-linear curve to a recommendation.
type Controller struct {
	config *config.Slowmode
	logger *zap.Logger
}

// New creates the slowmode controller.
func New(cfg *config.Slowmode, logger *zap.Logger) *Controller {
	return &Controller{
		config: cfg,
		logger: logger.Named("slowmode"),
	}
}

// OnMessage counts the message into its channel's in-flight tick. The
// emergency path reacts to a burst crossing the in-tick threshold while
// the channel's ratelimit is below the ceiling, at most once per tick.
func (c *Controller) OnMessage(guild *state.GuildState, msg *event.Message) []action.Action {
	if !c.enabled(guild) {
		return nil
	}

	channel := guild.Slowmode(msg.ChannelID)
	pending := channel.OnMessage()

	if pending < c.config.EmergencyThreshold || channel.Current() >= c.config.MaxRatelimit {
		return nil
	}

	if !channel.TryEmergency() {
		return nil
	}

	c.logger.Warn("Emergency slowmode",
		zap.Uint64("guild_id", uint64(guild.GuildID)),
		zap.Uint64("channel_id", uint64(msg.ChannelID)),
		zap.Int("pending", pending))

	channel.SetCurrent(c.config.MaxRatelimit)

	return []action.Action{
		action.ChannelRatelimit{
			GuildID:   guild.GuildID,
			ChannelID: msg.ChannelID,
			Seconds:   c.config.MaxRatelimit,
		},
	}
}

// Tick closes the in-flight tick for every tracked channel and returns
// ratelimit changes. Bucket histories keep shifting while the feature
// is disabled so stale counts cannot linger into a re-enable.
func (c *Controller) Tick(guild *state.GuildState) []action.Action {
	guildCfg := guild.Config()
	enabled := c.enabled(guild)

	var actions []action.Action

	guild.EachSlowmode(func(channelID snowflake.ID, channel *state.SlowmodeChannel) {
		_, buckets := channel.Shift()
		if !enabled {
			return
		}

		exception := guildCfg.IsExceptionChannel(channelID)

		sum := 0
		for _, count := range buckets {
			sum += count
		}

		spike := buckets[state.SlowmodeBuckets-1]
		avg := int(math.Round(float64(sum) / state.SlowmodeBuckets))

		// Exception channels are expected to be busy; scale their counts
		// down before mapping so they earn less slowmode.
		if exception {
			spike /= c.config.ExceptionDivisor
			avg /= c.config.ExceptionDivisor
		}

		spikeRatelimit := c.curve(spike, exception)
		avgRatelimit := c.curve(avg, exception)
		current := channel.Current()

		// The spike reading reacts to bursts, the average decays slowly.
		// Spike wins when both trip.
		var recommended int

		switch {
		case spikeRatelimit > current+1:
			recommended = spikeRatelimit
		case avgRatelimit != current:
			recommended = avgRatelimit
		default:
			return
		}

		c.logger.Debug("Slowmode change",
			zap.Uint64("guild_id", uint64(guild.GuildID)),
			zap.Uint64("channel_id", uint64(channelID)),
			zap.Int("current", current),
			zap.Int("recommended", recommended))

		channel.SetCurrent(recommended)
		actions = append(actions, action.ChannelRatelimit{
			GuildID:   guild.GuildID,
			ChannelID: channelID,
			Seconds:   recommended,
		})
	})

	return actions
}

func (c *Controller) enabled(guild *state.GuildState) bool {
	guildCfg := guild.Config()
	if guildCfg == nil || !guildCfg.SlowmodeEnabled {
		return false
	}

	entitlement := guild.Entitlement()

	return entitlement != nil && entitlement.AdaptiveSlowmode
}

// curve maps a bucket count to a ratelimit in seconds. Regular channels
// floor at one second so an active channel never fully sheds slowmode;
// exception channels may drop back to zero.
func (c *Controller) curve(count int, exception bool) int {
	ratelimit := int(math.Round(math.Pow(float64(count), c.config.CurveExponent) / c.config.CurveDivisor))

	if !exception && ratelimit < 1 {
		ratelimit = 1
	}

	if ratelimit > c.config.MaxRatelimit {
		ratelimit = c.config.MaxRatelimit
	}

	return ratelimit
}
