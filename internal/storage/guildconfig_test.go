package storage_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/disgoorg/snowflake/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/sentinel/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) (*storage.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	// Start miniredis server
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Create Redis client
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	store := storage.NewClient(client, client, zap.NewNop())

	cleanup := func() {
		mr.Close()
		client.Close()
	}

	return store, mr, cleanup
}

func TestGetGuildConfig(t *testing.T) {
	t.Parallel()
	store, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()
	guildID := snowflake.ID(123)

	mr.Set("guild_config:123", `{
		"raidLimit": 5,
		"raidWindow": 300,
		"raidMode": 3,
		"exceptionChannels": [42],
		"logChannelId": 99,
		"antispamEnabled": true,
		"raidEnabled": true
	}`)

	config, err := store.GetGuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, 5, config.RaidLimit)
	assert.Equal(t, 300, config.RaidWindow)
	assert.Equal(t, 3, config.RaidMode)
	assert.True(t, config.AntispamEnabled)
	assert.True(t, config.IsExceptionChannel(snowflake.ID(42)))
	assert.False(t, config.IsExceptionChannel(snowflake.ID(43)))
}

func TestGetGuildConfigMissing(t *testing.T) {
	t.Parallel()
	store, _, cleanup := setupTest(t)
	defer cleanup()

	// A guild without a record decodes to the zero config
	config, err := store.GetGuildConfig(t.Context(), snowflake.ID(555))
	require.NoError(t, err)
	assert.Equal(t, 0, config.RaidLimit)
	assert.False(t, config.AntispamEnabled)
}

func TestGetEntitlement(t *testing.T) {
	t.Parallel()
	store, mr, cleanup := setupTest(t)
	defer cleanup()

	mr.Set("guild_entitlement:123", `{"plan":"pro","raidProtection":true,"adaptiveSlowmode":true}`)

	entitlement, err := store.GetEntitlement(t.Context(), snowflake.ID(123))
	require.NoError(t, err)
	assert.Equal(t, "pro", entitlement.Plan)
	assert.True(t, entitlement.RaidProtection)
	assert.True(t, entitlement.AdaptiveSlowmode)
}

func TestGetEntitlementMissing(t *testing.T) {
	t.Parallel()
	store, _, cleanup := setupTest(t)
	defer cleanup()

	entitlement, err := store.GetEntitlement(t.Context(), snowflake.ID(999))
	require.NoError(t, err)
	assert.Equal(t, "", entitlement.Plan)
	assert.False(t, entitlement.RaidProtection)
}
