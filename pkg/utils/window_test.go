package utils_test

import (
	"testing"
	"time"

	"github.com/robalyx/sentinel/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestWindowCounter(t *testing.T) {
	t.Run("counts within window", func(t *testing.T) {
		w := utils.NewWindowCounter(time.Hour)
		w.Add(1)
		w.Add(3)
		assert.Equal(t, 4, w.Total())
	})

	t.Run("expires outside window", func(t *testing.T) {
		w := utils.NewWindowCounter(50 * time.Millisecond)
		w.Add(5)
		time.Sleep(70 * time.Millisecond)
		assert.Equal(t, 0, w.Total())
	})

	t.Run("partial expiry", func(t *testing.T) {
		w := utils.NewWindowCounter(100 * time.Millisecond)
		w.Add(2)
		time.Sleep(70 * time.Millisecond)
		w.Add(3)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 3, w.Total())
	})

	t.Run("sweep reports empty", func(t *testing.T) {
		w := utils.NewWindowCounter(30 * time.Millisecond)
		w.Add(1)
		assert.False(t, w.Sweep())
		time.Sleep(50 * time.Millisecond)
		assert.True(t, w.Sweep())
	})
}
