package scheduler

import (
	"sort"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/normanking/avatarmotion/internal/anim"
	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/catalog"
	"github.com/normanking/avatarmotion/internal/emotion"
)

const ms = time.Millisecond

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

type write struct {
	shape  string
	bone   string
	weight float32
}

// recorder is an Avatar that logs every accepted write in order.
type recorder struct {
	*av.Avatar
	log []write
}

func newRecorder(shapes, bones []string) *recorder {
	return &recorder{Avatar: av.NewAvatar(shapes, bones)}
}

func (r *recorder) SetBlendShapeWeight(name string, w float32) {
	r.log = append(r.log, write{shape: name, weight: w})
	r.Avatar.SetBlendShapeWeight(name, w)
}

func (r *recorder) SetBoneTransform(name string, t av.Transform) {
	r.log = append(r.log, write{bone: name})
	r.Avatar.SetBoneTransform(name, t)
}

func quiet() Settings {
	s := DefaultSettings()
	s.AutoBlink = false
	s.Breathing = false
	return s
}

func newScheduler(t *testing.T, settings Settings, target av.PoseTarget) (*Scheduler, *[]Event) {
	t.Helper()
	var events []Event
	s := New(Options{
		Settings: settings,
		Logger:   zerolog.Nop(),
		Rand:     fixedRand(0.5),
		OnEvent:  func(e Event) { events = append(events, e) },
	})
	if target != nil {
		s.Bind(target)
	}
	return s, &events
}

func ramp(name, channel string, d time.Duration) anim.Sequence {
	return anim.Sequence{
		Name:     name,
		Duration: d,
		Easing:   anim.EaseLinear,
		KeyFrames: []anim.KeyFrame{
			{Time: 0, BlendShapes: map[string]float32{channel: 0}},
			{Time: d, BlendShapes: map[string]float32{channel: 1}},
		},
	}
}

func TestScheduler_NoTarget(t *testing.T) {
	s, events := newScheduler(t, quiet(), nil)

	assert.Equal(t, NoID, s.Play(ramp("r", "A", time.Second), PriorityNormal))
	assert.Equal(t, NoID, s.PlayEmotion(emotion.Happy, 1))
	s.Tick(100 * ms)
	assert.Zero(t, s.State().ActiveCount)
	assert.Zero(t, s.State().FrameRate)
	assert.Empty(t, *events)
}

func TestScheduler_PlayAndTick(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, events := newScheduler(t, quiet(), avatar)

	id := s.Play(ramp("r", "A", time.Second), PriorityNormal)
	require.NotEqual(t, NoID, id)

	s.Tick(0)
	s.Tick(500 * ms)
	assert.InDelta(t, 0.5, avatar.Weight("A"), 1e-6)

	st := s.State()
	assert.Equal(t, 1, st.ActiveCount)
	assert.Equal(t, []string{id}, st.RunningIDs)
	require.Len(t, *events, 1)
	assert.Equal(t, EventStarted, (*events)[0].Type)
	assert.Equal(t, LayerCustom, (*events)[0].Layer)
}

func TestScheduler_InvalidSequenceRejected(t *testing.T) {
	s, _ := newScheduler(t, quiet(), av.NewAvatar(nil, nil))
	assert.Equal(t, NoID, s.Play(anim.Sequence{Name: "empty", Duration: time.Second}, PriorityNormal))
}

func TestScheduler_StartsOnNextTick(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, quiet(), avatar)

	s.Tick(2 * time.Second)
	id := s.Play(ramp("r", "A", time.Second), PriorityNormal)

	// A long gap before the next tick does not eat into playback.
	s.Tick(5 * time.Second)
	inst, ok := s.Instance(id)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, inst.StartTime)
	assert.Zero(t, avatar.Weight("A"))

	s.Tick(5250 * ms)
	assert.InDelta(t, 0.25, avatar.Weight("A"), 1e-6)
}

func TestScheduler_PlayBeforeFirstTickWithLateClock(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, events := newScheduler(t, quiet(), avatar)

	id := s.PlayEmotion(emotion.Happy, 1)
	require.NotEqual(t, NoID, id)

	s.Tick(10 * time.Minute)
	_, alive := s.Instance(id)
	require.True(t, alive)

	s.Tick(10*time.Minute + 500*ms)
	assert.Greater(t, avatar.Weight(av.MouthSmileLeft), float32(0))
	for _, e := range *events {
		assert.NotEqual(t, EventCompleted, e.Type)
	}
}

func TestScheduler_CompletionResetsChannels(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, events := newScheduler(t, quiet(), avatar)

	id := s.Play(ramp("r", "A", time.Second), PriorityNormal)
	s.Tick(0)
	s.Tick(900 * ms)
	assert.InDelta(t, 0.9, avatar.Weight("A"), 1e-6)

	s.Tick(time.Second)
	assert.Zero(t, s.State().ActiveCount)
	assert.Zero(t, avatar.Weight("A"))
	last := (*events)[len(*events)-1]
	assert.Equal(t, EventCompleted, last.Type)
	assert.Equal(t, id, last.ID)
}

func TestScheduler_LoopWraps(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, quiet(), avatar)

	seq := ramp("loop", "A", time.Second)
	seq.Loop = true
	s.Play(seq, PriorityNormal)

	s.Tick(0)
	s.Tick(2500 * ms)
	assert.Equal(t, 1, s.State().ActiveCount)
	assert.InDelta(t, 0.5, avatar.Weight("A"), 1e-6)
}

func TestScheduler_CapacityEviction(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, events := newScheduler(t, quiet(), avatar)

	low := s.Play(ramp("low", "L", time.Minute), 1)
	mid := s.Play(ramp("mid", "M", time.Minute), 2)
	high := s.Play(ramp("high", "H", time.Minute), 3)
	s.Tick(0)
	s.Tick(30 * time.Second)
	require.InDelta(t, 0.5, avatar.Weight("L"), 1e-6)

	t.Run("higher priority evicts the lowest", func(t *testing.T) {
		top := s.Play(ramp("top", "T", time.Minute), 4)
		require.NotEqual(t, NoID, top)
		assert.ElementsMatch(t, []string{mid, high, top}, s.State().RunningIDs)
		assert.Zero(t, avatar.Weight("L"))
		_, ok := s.Instance(low)
		assert.False(t, ok)
	})

	t.Run("lower priority is rejected", func(t *testing.T) {
		assert.Equal(t, NoID, s.Play(ramp("weak", "W", time.Minute), 1))
		assert.Equal(t, 3, s.State().ActiveCount)
		assert.Equal(t, EventRejected, (*events)[len(*events)-1].Type)
	})

	t.Run("equal priority evicts the oldest", func(t *testing.T) {
		again := s.Play(ramp("again", "G", time.Minute), 2)
		require.NotEqual(t, NoID, again)
		_, ok := s.Instance(mid)
		assert.False(t, ok)
		assert.Equal(t, 3, s.State().ActiveCount)
	})
}

func TestScheduler_TopThreeSurviveProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(-5, 5), 1, 12).Draw(rt, "priorities")
		s := New(Options{Settings: quiet(), Logger: zerolog.Nop(), Rand: fixedRand(0)})
		s.Bind(av.NewAvatar(nil, nil))

		for i, p := range priorities {
			s.Play(ramp("p", "A", time.Hour), p)
			if n := s.State().ActiveCount; n > 3 {
				rt.Fatalf("active %d after %d plays", n, i+1)
			}
			if i%3 == 0 {
				s.Tick(time.Duration(i) * ms)
			}
		}

		want := append([]int(nil), priorities...)
		sort.Sort(sort.Reverse(sort.IntSlice(want)))
		if len(want) > 3 {
			want = want[:3]
		}
		var got []int
		for _, id := range s.State().RunningIDs {
			inst, _ := s.Instance(id)
			got = append(got, inst.Priority)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(got)))
		if len(got) != len(want) {
			rt.Fatalf("got priorities %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("got priorities %v, want %v", got, want)
			}
		}
	})
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, events := newScheduler(t, quiet(), avatar)

	id := s.Play(ramp("r", "A", time.Second), PriorityNormal)
	s.Tick(500 * ms)
	s.Stop(id)
	assert.Zero(t, avatar.Weight("A"))
	n := len(*events)

	s.Stop(id)
	s.Stop("missing")
	s.Stop(NoID)
	assert.Len(t, *events, n)
}

func TestScheduler_HappyThenSadResetsFirst(t *testing.T) {
	rec := newRecorder(nil, nil)
	s, _ := newScheduler(t, quiet(), rec)

	happy := s.PlayEmotion(emotion.Happy, 1)
	require.NotEqual(t, NoID, happy)
	s.Tick(0)
	s.Tick(time.Second)
	require.Greater(t, rec.Weight(av.MouthSmileLeft), float32(0))

	mark := len(rec.log)
	sad := s.PlayEmotion(emotion.Sad, 1)
	require.NotEqual(t, NoID, sad)
	assert.Equal(t, sad, s.State().CurrentEmotion)

	happySeq, _ := catalog.Emotion(emotion.Happy)
	happyShapes, _ := happySeq.Channels()
	reset := map[string]bool{}
	for _, w := range rec.log[mark:] {
		require.Zero(t, w.weight, "only resets may happen before the sad tick")
		reset[w.shape] = true
	}
	for _, ch := range happyShapes {
		assert.True(t, reset[ch], "%s not reset", ch)
	}

	s.Tick(2 * time.Second)
	s.Tick(3 * time.Second)
	assert.Zero(t, rec.Weight(av.MouthSmileLeft))
	assert.Greater(t, rec.Weight(av.BrowInnerUp), float32(0))
}

func TestScheduler_EmotionIntensityAndNeutral(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, quiet(), avatar)

	s.PlayEmotion(emotion.Happy, 0.5)
	s.Tick(0)
	s.Tick(time.Second)
	assert.InDelta(t, 0.35, avatar.Weight(av.MouthSmileLeft), 1e-6)

	assert.Equal(t, NoID, s.PlayEmotion(emotion.Neutral, 1))
	assert.Empty(t, s.State().CurrentEmotion)
	assert.Zero(t, avatar.Weight(av.MouthSmileLeft))
}

func TestScheduler_GestureSlot(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, quiet(), avatar)

	nod := s.PlayGesture(catalog.GestureNod, 1)
	require.NotEqual(t, NoID, nod)
	shake := s.PlayGesture(catalog.GestureShake, 1)
	require.NotEqual(t, NoID, shake)

	st := s.State()
	assert.Equal(t, shake, st.CurrentGesture)
	assert.Equal(t, 1, st.ActiveCount)

	assert.Equal(t, NoID, s.PlayGesture("wave", 1))
	assert.Empty(t, s.State().CurrentGesture)
}

func TestScheduler_PauseResume(t *testing.T) {
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, quiet(), avatar)

	s.Play(ramp("r", "A", time.Second), PriorityNormal)
	s.Tick(0)
	s.Tick(250 * ms)
	s.PauseAll()
	assert.True(t, s.State().Paused)

	s.Tick(750 * ms)
	assert.InDelta(t, 0.25, avatar.Weight("A"), 1e-6)
	assert.Equal(t, 1, s.State().ActiveCount)

	s.ResumeAll()
	s.Tick(time.Second)
	assert.InDelta(t, 0.5, avatar.Weight("A"), 1e-6)
}

func TestScheduler_BlinkCadence(t *testing.T) {
	settings := quiet()
	settings.AutoBlink = true
	settings.BlinkMin = 2 * time.Second
	settings.BlinkMax = 4 * time.Second
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, settings, avatar)

	s.Tick(0)
	next, ok := s.NextBlink()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, next)

	s.Tick(2999 * ms)
	assert.Zero(t, s.State().ActiveCount)

	s.Tick(3000 * ms)
	assert.Equal(t, 1, s.State().ActiveCount)
	next, _ = s.NextBlink()
	assert.Equal(t, 6*time.Second, next)

	s.Tick(3060 * ms)
	assert.Equal(t, float32(1), avatar.Weight(av.EyeBlinkLeft))

	s.Tick(3150 * ms)
	assert.Zero(t, s.State().ActiveCount)
	assert.Zero(t, avatar.Weight(av.EyeBlinkLeft))
}

func TestScheduler_ResumeRearmsBlink(t *testing.T) {
	settings := quiet()
	settings.AutoBlink = true
	settings.BlinkMin = 2 * time.Second
	settings.BlinkMax = 4 * time.Second
	s, _ := newScheduler(t, settings, av.NewAvatar(nil, nil))

	s.Tick(0)
	s.PauseAll()
	s.Tick(10 * time.Second)
	assert.Zero(t, s.State().ActiveCount)

	s.ResumeAll()
	s.Tick(10*time.Second + 16*ms)
	assert.Zero(t, s.State().ActiveCount, "no overdue blink on resume")
	next, ok := s.NextBlink()
	require.True(t, ok)
	assert.Equal(t, 13*time.Second+16*ms, next)
}

func TestScheduler_BreathingRestartsAfterEviction(t *testing.T) {
	settings := quiet()
	settings.Breathing = true
	settings.MaxConcurrent = 1
	s, _ := newScheduler(t, settings, av.NewAvatar(nil, nil))

	s.Tick(0)
	st := s.State()
	require.Equal(t, 1, st.ActiveCount)
	breathing := st.RunningIDs[0]

	custom := s.Play(ramp("r", "A", time.Minute), PriorityNormal)
	require.NotEqual(t, NoID, custom)
	_, ok := s.Instance(breathing)
	assert.False(t, ok)

	s.Tick(100 * ms)
	assert.Equal(t, []string{custom}, s.State().RunningIDs)

	s.Stop(custom)
	s.Tick(200 * ms)
	st = s.State()
	require.Equal(t, 1, st.ActiveCount)
	inst, _ := s.Instance(st.RunningIDs[0])
	assert.Equal(t, "idle.breathing", inst.Sequence.Name)
}

func TestScheduler_BoneRestCompositing(t *testing.T) {
	avatar := av.NewAvatar(nil, []string{"Head"})
	rest := av.Transform{Position: mgl32.Vec3{0, 1, 0}, Scale: mgl32.Vec3{1, 1, 1}}
	avatar.SetBoneTransform("Head", rest)
	s, _ := newScheduler(t, quiet(), avatar)

	seq := anim.Sequence{
		Name:     "turn",
		Duration: time.Second,
		Easing:   anim.EaseLinear,
		KeyFrames: []anim.KeyFrame{
			{Time: 0, Bones: map[string]anim.BoneTransform{av.BoneHead: {Rotation: anim.V3(0, 0, 0)}}},
			{Time: time.Second, Bones: map[string]anim.BoneTransform{av.BoneHead: {Rotation: anim.V3(0.2, 0, 0)}}},
		},
	}
	id := s.Play(seq, PriorityNormal)
	s.Tick(0)
	s.Tick(500 * ms)

	got, ok := avatar.BoneTransform("Head")
	require.True(t, ok)
	assert.InDelta(t, 1, got.Position[1], 1e-6)
	assert.InDelta(t, 0.1, got.Rotation[0], 1e-6)

	s.Stop(id)
	got, _ = avatar.BoneTransform("Head")
	assert.Equal(t, rest, got)
}

func TestScheduler_AliasResolution(t *testing.T) {
	avatar := av.NewAvatar([]string{"aa"}, nil)
	s, _ := newScheduler(t, quiet(), avatar)

	seq := ramp("vowel", "A", time.Second)
	seq.KeyFrames[0].BlendShapes[av.JawOpen] = 0.3
	s.Play(seq, PriorityNormal)
	s.Tick(0)
	s.Tick(500 * ms)

	assert.InDelta(t, 0.5, avatar.Weight("aa"), 1e-6)
	assert.True(t, s.warned["blend_shape:"+av.JawOpen])
}

func TestScheduler_SetEnabled(t *testing.T) {
	settings := quiet()
	settings.Breathing = true
	avatar := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, settings, avatar)
	overlay := &resettingOverlay{}
	s.SetOverlay(overlay)

	s.Tick(0)
	s.Play(ramp("r", "A", time.Second), PriorityNormal)
	s.Tick(500 * ms)
	require.Equal(t, 2, s.State().ActiveCount)

	s.SetEnabled(false)
	assert.False(t, s.State().Enabled)
	assert.Zero(t, s.State().ActiveCount)
	assert.Zero(t, avatar.Weight("A"))
	assert.True(t, overlay.reset)
	assert.Equal(t, NoID, s.Play(ramp("r", "A", time.Second), PriorityNormal))

	applied := overlay.applied
	s.Tick(600 * ms)
	assert.Zero(t, s.State().ActiveCount)
	assert.Equal(t, applied, overlay.applied)

	s.SetEnabled(true)
	s.Tick(700 * ms)
	assert.Equal(t, 1, s.State().ActiveCount)
}

type resettingOverlay struct {
	applied int
	reset   bool
}

func (o *resettingOverlay) Apply(target av.PoseTarget) {
	o.applied++
	target.SetBlendShapeWeight("A", 0.7)
}

func (o *resettingOverlay) Reset(av.PoseTarget) { o.reset = true }

func TestScheduler_WriteOrder(t *testing.T) {
	settings := quiet()
	settings.Breathing = true
	rec := newRecorder(nil, nil)
	s, _ := newScheduler(t, settings, rec)
	s.SetOverlay(&resettingOverlay{})

	s.PlayGesture(catalog.GestureNod, 1)
	s.PlayEmotion(emotion.Happy, 1)
	s.Tick(0)
	s.Tick(500 * ms)

	// Within the tick: breathing jawOpen, then the emotion, then the
	// gesture's head bone, then the overlay.
	firstOf := func(pred func(write) bool) int {
		for i, w := range rec.log {
			if pred(w) {
				return i
			}
		}
		return -1
	}
	breath := firstOf(func(w write) bool { return w.shape == av.JawOpen })
	smile := firstOf(func(w write) bool { return w.shape == av.MouthSmileLeft })
	head := firstOf(func(w write) bool { return w.bone == av.BoneHead })
	require.True(t, breath >= 0 && smile >= 0 && head >= 0)
	assert.Less(t, breath, smile)
	assert.Less(t, smile, head)
	last := rec.log[len(rec.log)-1]
	assert.Equal(t, "A", last.shape)
	assert.InDelta(t, 0.7, rec.Weight("A"), 1e-6)
}

func TestScheduler_UpdateSettings(t *testing.T) {
	settings := quiet()
	settings.Breathing = true
	s, _ := newScheduler(t, settings, av.NewAvatar(nil, nil))

	s.Tick(0)
	a := s.Play(ramp("a", "A", time.Minute), 5)
	b := s.Play(ramp("b", "B", time.Minute), 7)
	require.Equal(t, 3, s.State().ActiveCount)

	settings.MaxConcurrent = 2
	s.UpdateSettings(settings)
	assert.ElementsMatch(t, []string{a, b}, s.State().RunningIDs)

	settings.Breathing = false
	settings.MaxConcurrent = 0
	s.UpdateSettings(settings)
	assert.Equal(t, 1, s.Settings().MaxConcurrent)
	assert.Equal(t, []string{b}, s.State().RunningIDs)
}

func TestScheduler_FrameRateAndBudget(t *testing.T) {
	clock := time.Unix(0, 0)
	var events []Event
	s := New(Options{
		Settings: quiet(),
		Logger:   zerolog.Nop(),
		Rand:     fixedRand(0),
		Clock: func() time.Time {
			clock = clock.Add(6 * ms)
			return clock
		},
		OnEvent: func(e Event) { events = append(events, e) },
	})
	s.Bind(av.NewAvatar(nil, nil))

	for ts := time.Duration(0); ts <= 2*time.Second; ts += 100 * ms {
		s.Tick(ts)
	}
	st := s.State()
	assert.Equal(t, 10, st.FrameRate)
	assert.Equal(t, 6*ms, st.CalcTime)
	assert.Zero(t, st.BudgetWarnings)

	settings := quiet()
	settings.FrameBudget = 5 * ms
	s.UpdateSettings(settings)
	s.Tick(2100 * ms)
	s.Tick(2200 * ms)
	assert.Equal(t, 2, s.State().BudgetWarnings)
	assert.Equal(t, EventBudgetExceeded, events[len(events)-1].Type)
	assert.Equal(t, 6*ms, events[len(events)-1].Elapsed)
}

func TestScheduler_BindResets(t *testing.T) {
	first := av.NewAvatar(nil, nil)
	s, _ := newScheduler(t, quiet(), first)
	s.Play(ramp("r", "A", time.Second), PriorityNormal)
	s.Tick(0)
	s.Tick(500 * ms)
	require.InDelta(t, 0.5, first.Weight("A"), 1e-6)

	second := av.NewAvatar(nil, nil)
	s.Bind(second)
	assert.Zero(t, first.Weight("A"))
	assert.Zero(t, s.State().ActiveCount)
	assert.Same(t, second, s.Target())
	assert.NotNil(t, s.Resolver())
}
