package scheduler

import (
	"sort"
	"time"

	"github.com/normanking/avatarmotion/internal/anim"
	av "github.com/normanking/avatarmotion/internal/avatar3d"
)

const frameWindow = time.Second

// Tick advances every active instance to now and writes the composited
// pose. Writes go in layer order (idle, custom, emotion, gesture) and the
// overlay goes last. Without a bound target Tick does nothing.
func (s *Scheduler) Tick(now time.Duration) {
	if s.target == nil {
		return
	}
	started := s.clock()

	s.lastTick = now
	s.countFrame(now)

	if s.enabled && !s.paused {
		s.scheduleIdle(now)
	}

	// Instances admitted since the last tick start now, however long ago
	// that tick was.
	for _, inst := range s.active {
		inst.anchor(now)
	}

	// Completed instances are reset before anything is written so their
	// zeroes cannot clobber channels still driven this tick.
	for i := 0; i < len(s.active); {
		inst := s.active[i]
		if !inst.Paused && inst.Complete(now) {
			s.remove(i, EventCompleted)
			continue
		}
		i++
	}

	order := make([]*Instance, len(s.active))
	copy(order, s.active)
	sort.SliceStable(order, func(i, j int) bool { return order[i].writesBefore(order[j]) })

	for _, inst := range order {
		if inst.Paused {
			continue
		}
		s.write(inst, anim.Evaluate(inst.Sequence, inst.CurrentTime(now)))
	}

	if s.overlay != nil && s.enabled {
		s.overlay.Apply(s.target)
	}

	s.calcTime = s.clock().Sub(started)
	if s.calcTime > s.settings.FrameBudget {
		s.budgetExceeded(now)
	}
}

func (s *Scheduler) write(inst *Instance, pose anim.Pose) {
	for _, name := range sortedKeys(pose.BlendShapes) {
		rig, ok := inst.shapes[name]
		if !ok {
			continue
		}
		s.target.SetBlendShapeWeight(rig, av.Clamp(pose.BlendShapes[name], 0, 1))
	}
	for name, offset := range pose.Bones {
		rig, ok := inst.bones[name]
		if !ok {
			continue
		}
		s.target.SetBoneTransform(rig, av.Compose(s.restFor(rig), offset))
	}
}

func sortedKeys(m map[string]float32) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// countFrame keeps tick timestamps from the last second.
func (s *Scheduler) countFrame(now time.Duration) {
	s.frames = append(s.frames, now)
	cut := 0
	for cut < len(s.frames) && s.frames[cut] <= now-frameWindow {
		cut++
	}
	if cut > 0 {
		s.frames = append(s.frames[:0], s.frames[cut:]...)
	}
}

func (s *Scheduler) budgetExceeded(now time.Duration) {
	s.budgetWarnings++
	if !s.budgetLogged || now-s.lastBudgetLog >= time.Second {
		s.budgetLogged = true
		s.lastBudgetLog = now
		s.logger.Warn().
			Dur("calc_time", s.calcTime).
			Dur("budget", s.settings.FrameBudget).
			Int("warnings", s.budgetWarnings).
			Msg("Frame budget exceeded")
	}
	s.emit(Event{Type: EventBudgetExceeded, Elapsed: s.calcTime, At: now})
}
