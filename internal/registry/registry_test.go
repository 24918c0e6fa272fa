package registry_test

import (
	"testing"

	"github.com/robalyx/sentinel/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	reg.Register("http:challenge", func(args ...any) any { return "ok" })
	reg.Freeze()

	fn := reg.Lookup("http:challenge")
	require.NotNil(t, fn)
	assert.Equal(t, "ok", fn())
}

func TestRegistryMissingCapability(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	reg.Freeze()

	// Missing capabilities degrade to nil, not panic
	assert.Nil(t, reg.Lookup("track"))
	assert.Nil(t, reg.Lookup("track"))
}

func TestRegistryRegisterAfterFreeze(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	reg.Freeze()

	assert.Panics(t, func() {
		reg.Register("late", func(args ...any) any { return nil })
	})
}

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	reg.Register("http:delete", func(args ...any) any { return nil })

	assert.Panics(t, func() {
		reg.Register("http:delete", func(args ...any) any { return nil })
	})
}
