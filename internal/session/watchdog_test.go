package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatchdog(cfg Config) (*Watchdog, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWatchdog(cfg, zerolog.Nop())
	w.now = func() time.Time { return now }
	return w, &now
}

func TestWatchdog_Defaults(t *testing.T) {
	w := NewWatchdog(Config{}, zerolog.Nop())
	assert.Equal(t, 30*time.Second, w.config.Timeout)
	assert.Equal(t, time.Second, w.config.CheckInterval)
}

func TestWatchdog_SweepExpiresOldSessions(t *testing.T) {
	w, now := newTestWatchdog(DefaultConfig())

	old := w.Begin()
	*now = now.Add(10 * time.Second)
	fresh := w.Begin()
	assert.Equal(t, []string{old, fresh}, w.Active())

	assert.Empty(t, w.Sweep(now.Add(19*time.Second)))

	expired := w.Sweep(now.Add(20 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, old, expired[0].ID)
	assert.Equal(t, 30*time.Second, expired[0].Elapsed)
	assert.ErrorIs(t, expired[0].Err, ErrAnalysisTimeout)
	assert.Equal(t, []string{fresh}, w.Active())

	select {
	case e := <-w.Expired():
		assert.Equal(t, old, e.ID)
	default:
		t.Fatal("expiry not delivered")
	}

	assert.False(t, w.End(old))
	assert.True(t, w.End(fresh))
	assert.Empty(t, w.Active())
}

func TestWatchdog_FullChannelDoesNotBlock(t *testing.T) {
	w, now := newTestWatchdog(Config{Timeout: time.Second})
	for i := 0; i < cap(w.expired)+4; i++ {
		w.Begin()
	}
	expired := w.Sweep(now.Add(time.Second))
	assert.Len(t, expired, cap(w.expired)+4)
	assert.Len(t, w.expired, cap(w.expired))
}

func TestWatchdog_Run(t *testing.T) {
	w := NewWatchdog(Config{Timeout: 20 * time.Millisecond, CheckInterval: 5 * time.Millisecond}, zerolog.Nop())
	id := w.Begin()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case e := <-w.Expired():
		assert.Equal(t, id, e.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("session never expired")
	}

	cancel()
	assert.NoError(t, <-done)
}
