package scheduler

import (
	"time"

	"github.com/normanking/avatarmotion/internal/anim"
)

// Layer orders instance writes within a tick. Later layers override
// earlier ones on shared channels.
type Layer int

const (
	LayerIdle Layer = iota
	LayerCustom
	LayerEmotion
	LayerGesture
)

func (l Layer) String() string {
	switch l {
	case LayerIdle:
		return "idle"
	case LayerCustom:
		return "custom"
	case LayerEmotion:
		return "emotion"
	case LayerGesture:
		return "gesture"
	default:
		return "unknown"
	}
}

// Priorities used by the built-in callers. Higher wins.
const (
	PriorityBreathing = 0
	PriorityBlink     = 10
	PriorityNormal    = 50
	PriorityHigh      = 100
)

// NoID is returned when a play request is not admitted.
const NoID = ""

// Instance is a running binding of a sequence to a start time.
type Instance struct {
	ID        string
	Sequence  anim.Sequence
	Priority  int
	StartTime time.Duration
	Paused    bool
	Layer     Layer

	admitted uint64
	pausedAt time.Duration
	// StartTime is provisional until the first tick that sees the instance.
	anchored bool

	// canonical channel name -> rig name, resolved once at admission
	shapes map[string]string
	bones  map[string]string
}

// anchor fixes the start of an instance admitted since the previous tick.
func (i *Instance) anchor(now time.Duration) {
	if i.anchored {
		return
	}
	i.anchored = true
	i.StartTime = now
	if i.Paused {
		i.pausedAt = now
	}
}

// CurrentTime is the instance's playback position at now.
func (i *Instance) CurrentTime(now time.Duration) time.Duration {
	t := now - i.StartTime
	if t < 0 {
		t = 0
	}
	if i.Sequence.Loop && i.Sequence.Duration > 0 {
		t %= i.Sequence.Duration
	}
	return t
}

// Complete reports whether a non-looping instance has reached its end.
func (i *Instance) Complete(now time.Duration) bool {
	return !i.Sequence.Loop && now-i.StartTime >= i.Sequence.Duration
}

// lowerThan orders eviction candidates: lower priority first, then older
// start, then earlier admission.
func (i *Instance) lowerThan(o *Instance) bool {
	if i.Priority != o.Priority {
		return i.Priority < o.Priority
	}
	if i.StartTime != o.StartTime {
		return i.StartTime < o.StartTime
	}
	return i.admitted < o.admitted
}

// writesBefore orders instances for compositing.
func (i *Instance) writesBefore(o *Instance) bool {
	if i.Layer != o.Layer {
		return i.Layer < o.Layer
	}
	if i.Priority != o.Priority {
		return i.Priority < o.Priority
	}
	return i.admitted < o.admitted
}
