package client_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-session/client"
	"github.com/stretchr/testify/assert"
)

func TestRefreshScheduler(t *testing.T) {
	t.Run("fires once after the delay", func(t *testing.T) {
		var fired atomic.Int32
		s := client.NewRefreshScheduler(func() { fired.Add(1) })

		s.Schedule(20 * time.Millisecond)

		assert.Equal(t, int32(0), fired.Load())
		assert.True(t, s.Pending())

		time.Sleep(100 * time.Millisecond)

		assert.Equal(t, int32(1), fired.Load())
		assert.False(t, s.Pending())
	})

	t.Run("cancel prevents the fire", func(t *testing.T) {
		var fired atomic.Int32
		s := client.NewRefreshScheduler(func() { fired.Add(1) })

		s.Schedule(20 * time.Millisecond)
		s.Cancel()

		time.Sleep(100 * time.Millisecond)

		assert.Equal(t, int32(0), fired.Load())
		assert.False(t, s.Pending())
	})

	t.Run("rescheduling replaces the pending timer", func(t *testing.T) {
		var fired atomic.Int32
		s := client.NewRefreshScheduler(func() { fired.Add(1) })

		s.Schedule(10 * time.Millisecond)
		s.Schedule(50 * time.Millisecond)

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(0), fired.Load())

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(1), fired.Load())
	})

	t.Run("cancel is safe with nothing pending", func(t *testing.T) {
		s := client.NewRefreshScheduler(func() {})
		s.Cancel()
		s.Cancel()
		assert.False(t, s.Pending())
	})

	t.Run("negative delay fires immediately", func(t *testing.T) {
		var fired atomic.Int32
		s := client.NewRefreshScheduler(func() { fired.Add(1) })

		s.Schedule(-time.Second)

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), fired.Load())
	})
}
