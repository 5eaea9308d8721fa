package scheduler

import (
	"time"

	"github.com/normanking/avatarmotion/internal/catalog"
)

// scheduleIdle starts a blink when its randomized interval has elapsed and
// restarts breathing when it is missing.
func (s *Scheduler) scheduleIdle(now time.Duration) {
	if s.settings.AutoBlink {
		if !s.blinkArmed {
			s.nextBlink = now + s.blinkInterval()
			s.blinkArmed = true
		} else if now >= s.nextBlink {
			s.play(catalog.Blink(), PriorityBlink, LayerIdle)
			s.nextBlink = now + s.blinkInterval()
		}
	}

	// Breathing waits for room rather than being rejected every frame.
	if s.settings.Breathing && s.breathingID == "" && s.hasRoomFor(PriorityBreathing) {
		s.breathingID = s.play(catalog.Breathing(), PriorityBreathing, LayerIdle)
	}
}

// blinkInterval draws the next inter-blink gap from [BlinkMin, BlinkMax].
func (s *Scheduler) blinkInterval() time.Duration {
	span := s.settings.BlinkMax - s.settings.BlinkMin
	return s.settings.BlinkMin + time.Duration(s.rng.Float64()*float64(span))
}

// NextBlink returns when the next idle blink is due, and whether one is
// scheduled.
func (s *Scheduler) NextBlink() (time.Duration, bool) {
	return s.nextBlink, s.blinkArmed && s.settings.AutoBlink
}

func (s *Scheduler) hasRoomFor(priority int) bool {
	return len(s.active) < s.settings.MaxConcurrent || priority >= s.lowest().Priority
}
