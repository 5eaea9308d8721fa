// Package session tracks speech/lip-sync sessions and force-terminates any
// that outlive a fixed bound.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAnalysisTimeout is attached to sessions terminated by the watchdog.
var ErrAnalysisTimeout = errors.New("speech analysis timed out")

// Config holds watchdog settings.
type Config struct {
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval" json:"check_interval"`
}

// DefaultConfig returns the default watchdog settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		CheckInterval: time.Second,
	}
}

// Expiry reports a session terminated by the watchdog.
type Expiry struct {
	ID      string
	Started time.Time
	Elapsed time.Duration
	Err     error
}

// Watchdog is safe for concurrent use.
type Watchdog struct {
	mu       sync.Mutex
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
	sessions map[string]time.Time
	expired  chan Expiry
}

// NewWatchdog creates a watchdog. Zero config fields take defaults.
func NewWatchdog(config Config, logger zerolog.Logger) *Watchdog {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	return &Watchdog{
		config:   config,
		logger:   logger.With().Str("component", "watchdog").Logger(),
		now:      time.Now,
		sessions: make(map[string]time.Time),
		expired:  make(chan Expiry, 16),
	}
}

// Begin opens a session and returns its id.
func (w *Watchdog) Begin() string {
	id := uuid.NewString()
	w.mu.Lock()
	w.sessions[id] = w.now()
	w.mu.Unlock()
	w.logger.Debug().Str("session", id).Msg("Speech session started")
	return id
}

// End closes a session. It reports false when the session was unknown or
// already expired.
func (w *Watchdog) End(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sessions[id]; !ok {
		return false
	}
	delete(w.sessions, id)
	return true
}

// Active lists open session ids, oldest first.
func (w *Watchdog) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := w.sessions[ids[i]], w.sessions[ids[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Sweep terminates every session older than the timeout at now. Expiries
// are returned and also offered on Expired without blocking.
func (w *Watchdog) Sweep(now time.Time) []Expiry {
	w.mu.Lock()
	var out []Expiry
	for id, started := range w.sessions {
		if elapsed := now.Sub(started); elapsed >= w.config.Timeout {
			delete(w.sessions, id)
			out = append(out, Expiry{ID: id, Started: started, Elapsed: elapsed, Err: ErrAnalysisTimeout})
		}
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	for _, e := range out {
		w.logger.Warn().
			Err(e.Err).
			Str("session", e.ID).
			Dur("elapsed", e.Elapsed).
			Msg("Speech session exceeded timeout, forcing stop")
		select {
		case w.expired <- e:
		default:
			w.logger.Error().Str("session", e.ID).Msg("Expiry channel full, dropping notification")
		}
	}
	return out
}

// Expired delivers sessions terminated by Sweep.
func (w *Watchdog) Expired() <-chan Expiry { return w.expired }

// Run sweeps on the check interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep(w.now())
		}
	}
}
