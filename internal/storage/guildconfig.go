package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/disgoorg/snowflake/v2"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// GuildConfigKeyPrefix namespaces Redis keys storing per-guild
	// moderation configuration. Keys are formatted as "guild_config:{guildID}".
	GuildConfigKeyPrefix = "guild_config:"

	// EntitlementKeyPrefix namespaces Redis keys storing per-guild
	// entitlement records. Keys are formatted as "guild_entitlement:{guildID}".
	EntitlementKeyPrefix = "guild_entitlement:"
)

// GuildConfig is the decoded per-guild moderation configuration. The
// record is written by an external configuration service; this engine
// only reads it. Missing records decode to zero values and the engine
// falls back to its configured defaults.
type GuildConfig struct {
	// Raid join limit; zero means use the engine default.
	RaidLimit int `json:"raidLimit"`
	// Raid join window in seconds; zero means use the engine default.
	RaidWindow int `json:"raidWindow"`
	// Account-age narrowing in days (1, 3 or 7); zero disables narrowing.
	RaidMode int `json:"raidMode"`
	// Channels where bursty traffic is expected and weighted down.
	ExceptionChannels []uint64 `json:"exceptionChannels"`
	// Channel receiving batched audit messages; zero disables delivery.
	LogChannelID uint64 `json:"logChannelId"`
	// Role assigned by the role ladder entry; zero removes the entry.
	QuarantineRoleID uint64 `json:"quarantineRoleId"`
	// Per-feature switches.
	AntispamEnabled bool `json:"antispamEnabled"`
	RaidEnabled     bool `json:"raidEnabled"`
	SlowmodeEnabled bool `json:"slowmodeEnabled"`
}

// IsExceptionChannel reports whether channelID is configured as an
// exception channel.
func (c *GuildConfig) IsExceptionChannel(channelID snowflake.ID) bool {
	for _, id := range c.ExceptionChannels {
		if id == uint64(channelID) {
			return true
		}
	}

	return false
}

// Entitlement is the decoded per-guild entitlement record.
type Entitlement struct {
	Plan             string `json:"plan"`
	RaidProtection   bool   `json:"raidProtection"`
	AdaptiveSlowmode bool   `json:"adaptiveSlowmode"`
}

// Client reads guild configuration and entitlement records from Redis.
// Both record types are read-mostly and eventually consistent; callers
// cache snapshots per guild and tolerate one stale tick.
type Client struct {
	configClient      rueidis.Client
	entitlementClient rueidis.Client
	logger            *zap.Logger
}

// NewClient creates a storage client over the two record databases.
func NewClient(configClient, entitlementClient rueidis.Client, logger *zap.Logger) *Client {
	return &Client{
		configClient:      configClient,
		entitlementClient: entitlementClient,
		logger:            logger.Named("storage"),
	}
}

// GetGuildConfig fetches and decodes the configuration record for one
// guild. A missing record returns an empty config, not an error.
func (c *Client) GetGuildConfig(ctx context.Context, guildID snowflake.ID) (*GuildConfig, error) {
	key := fmt.Sprintf("%s%d", GuildConfigKeyPrefix, guildID)

	raw, err := c.configClient.Do(ctx, c.configClient.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if errors.Is(err, rueidis.Nil) {
			return &GuildConfig{}, nil
		}

		return nil, fmt.Errorf("failed to get guild config: %w", err)
	}

	var config GuildConfig
	if err := sonic.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guild config: %w", err)
	}

	return &config, nil
}

// GetEntitlement fetches and decodes the entitlement record for one
// guild. A missing record returns an empty entitlement, not an error.
func (c *Client) GetEntitlement(ctx context.Context, guildID snowflake.ID) (*Entitlement, error) {
	key := fmt.Sprintf("%s%d", EntitlementKeyPrefix, guildID)

	raw, err := c.entitlementClient.Do(ctx, c.entitlementClient.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if errors.Is(err, rueidis.Nil) {
			return &Entitlement{}, nil
		}

		return nil, fmt.Errorf("failed to get guild entitlement: %w", err)
	}

	var entitlement Entitlement
	if err := sonic.Unmarshal(raw, &entitlement); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guild entitlement: %w", err)
	}

	return &entitlement, nil
}
