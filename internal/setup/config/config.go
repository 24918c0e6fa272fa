package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound   = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidWorkerCount   = errors.New("engine worker_count must be at least 1")
	ErrInvalidQueueSize     = errors.New("engine queue_size must be at least 1")
)

// CurrentVersion is the expected version of the config file.
const CurrentVersion = 1

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int              `koanf:"version"`
	Debug      Debug            `koanf:"debug"`
	Redis      Redis            `koanf:"redis"`
	Discord    Discord          `koanf:"discord"`
	Engine     Engine           `koanf:"engine"`
	Moderation ModerationConfig `koanf:"moderation"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Discord contains Discord gateway configuration.
type Discord struct {
	// Bot token for the gateway connection.
	Token string `koanf:"token"`
}

// Engine contains event pipeline configuration.
type Engine struct {
	// Number of guild partition workers.
	WorkerCount int `koanf:"worker_count"`
	// Inbound queue capacity per worker.
	QueueSize int `koanf:"queue_size"`
	// Events buffered per guild while its config loads.
	PendingBufferSize int `koanf:"pending_buffer_size"`
	// Idle-state sweep interval in seconds.
	SweepInterval int `koanf:"sweep_interval"`
	// Guild config cache lifetime in seconds.
	ConfigCacheTTL int `koanf:"config_cache_ttl"`
}

// ModerationConfig groups detector and actuator tuning.
type ModerationConfig struct {
	Spam     Spam     `koanf:"spam"`
	Raid     Raid     `koanf:"raid"`
	Slowmode Slowmode `koanf:"slowmode"`
	Actuator Actuator `koanf:"actuator"`
}

// Spam contains spam detector tuning.
type Spam struct {
	// Recent-message comparison window in seconds.
	MessageWindow int `koanf:"message_window"`
	// Minimum Levenshtein ratio for two messages to count as similar.
	SimilarityRatio float64 `koanf:"similarity_ratio"`
	// Per-author similarity weight needed to fire.
	SimilarityUserThreshold float64 `koanf:"similarity_user_threshold"`
	// Per-guild similarity weight needed to fire.
	SimilarityGuildThreshold float64 `koanf:"similarity_guild_threshold"`
	// Weight applied to messages from exception channels.
	ExceptionWeight float64 `koanf:"exception_weight"`
	// Comparable prior messages required by the token-overlap rule.
	TokenMinMessages int `koanf:"token_min_messages"`
	// Aggregate weight required by the token-overlap rule.
	TokenMinWeight float64 `koanf:"token_min_weight"`
	// Distinct channels required by the exact-repeat rule.
	RepeatChannelCount int `koanf:"repeat_channel_count"`
	// Weighted occurrences required by the sticker-repeat rule.
	StickerRepeatCount float64 `koanf:"sticker_repeat_count"`
	// Weighted occurrences required by the attachment-repeat rule.
	AttachmentRepeatCount float64 `koanf:"attachment_repeat_count"`
	// Active mitigation lifetime in seconds.
	MitigationTTL int `koanf:"mitigation_ttl"`
}

// Raid contains raid detector tuning.
type Raid struct {
	// Default join limit when a guild has no raid config.
	DefaultLimit int `koanf:"default_limit"`
	// Default join window in seconds.
	DefaultWindow int `koanf:"default_window"`
	// Lifetime of the per-burst already-kicked marker in seconds.
	KickedMarkerTTL int `koanf:"kicked_marker_ttl"`
}

// Slowmode contains adaptive slowmode tuning.
type Slowmode struct {
	// Controller tick in seconds.
	Tick int `koanf:"tick"`
	// Exponent of the count-to-ratelimit curve.
	CurveExponent float64 `koanf:"curve_exponent"`
	// Divisor of the count-to-ratelimit curve.
	CurveDivisor float64 `koanf:"curve_divisor"`
	// Ceiling for recommended ratelimits in seconds.
	MaxRatelimit int `koanf:"max_ratelimit"`
	// Divisor applied to exception channel inputs.
	ExceptionDivisor int `koanf:"exception_divisor"`
	// In-tick message count that triggers the emergency path.
	EmergencyThreshold int `koanf:"emergency_threshold"`
}

// Actuator contains enforcement engine tuning. The worths, divisors and
// bias values are empirically chosen and deliberately exposed here
// instead of being hardcoded; see DESIGN.md before changing them.
type Actuator struct {
	// Per-user strike decay window in seconds.
	StrikeUserWindow int `koanf:"strike_user_window"`
	// Per-guild strike decay window in seconds.
	StrikeGuildWindow int `koanf:"strike_guild_window"`
	// Strike worth of a suppressed soft block.
	SoftStrikeWorth int `koanf:"soft_strike_worth"`
	// Strike worth of a hard challenge.
	HardStrikeWorth int `koanf:"hard_strike_worth"`
	// User strikes per danger point.
	DangerUserDivisor int `koanf:"danger_user_divisor"`
	// Guild strikes per danger point.
	DangerGuildDivisor int `koanf:"danger_guild_divisor"`
	// Danger bias subtracted when the caller prefers kick over ban.
	KickBias int `koanf:"kick_bias"`
	// Guild strike count above which only ban remains on the ladder.
	BanOnlyThreshold int `koanf:"ban_only_threshold"`
	// Guild danger at which announcements are suppressed.
	AnnouncementMuteDanger int `koanf:"announcement_mute_danger"`
	// Role/nickname/timeout edit budget per guild.
	EditBudgetLimit int `koanf:"edit_budget_limit"`
	// Edit budget decay window in seconds.
	EditBudgetWindow int `koanf:"edit_budget_window"`
	// Challenge debounce per (guild,user) in seconds.
	ChallengeDebounce int `koanf:"challenge_debounce"`
	// Delete dedupe marker lifetime in seconds.
	DeleteDedupeTTL int `koanf:"delete_dedupe_ttl"`
	// Delete batcher tick in milliseconds.
	DeleteTick int `koanf:"delete_tick"`
	// Log batcher tick in milliseconds.
	LogTick int `koanf:"log_tick"`
	// Maximum characters per outbound log message.
	LogMessageLimit int `koanf:"log_message_limit"`
	// Action queue capacity; actions are dropped with a log once full.
	QueueSize int `koanf:"queue_size"`
	// Concurrent action executions across all guilds.
	MaxConcurrent int `koanf:"max_concurrent"`
}

// LoadConfig loads the configuration from the specified file.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".sentinel",
		homeDir + "/.sentinel/config",
		"/etc/sentinel/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		configPath := fmt.Sprintf("%s/sentinel.toml", path)
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: sentinel.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version); err != nil {
		return nil, "", err
	}

	if err := checkEngineBounds(&config.Engine); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkEngineBounds rejects partition settings the engine cannot run
// with. A zero worker count would make guild partitioning divide by
// zero on the first event.
func checkEngineBounds(engine *Engine) error {
	if engine.WorkerCount < 1 {
		return fmt.Errorf("%w (got: %d)", ErrInvalidWorkerCount, engine.WorkerCount)
	}

	if engine.QueueSize < 1 {
		return fmt.Errorf("%w (got: %d)", ErrInvalidQueueSize, engine.QueueSize)
	}

	return nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(current int) error {
	if current == 0 {
		return fmt.Errorf("%w: sentinel.toml", ErrConfigVersionMissing)
	}

	if current != CurrentVersion {
		return fmt.Errorf("%w: sentinel.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, current, CurrentVersion)
	}

	return nil
}
