// Package scheduler runs timed animation instances against a shared pose
// target. All instance state changes happen inside calls made by the host
// render loop; the scheduler owns no goroutines and takes no locks.
package scheduler

import (
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/anim"
	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/catalog"
	"github.com/normanking/avatarmotion/internal/emotion"
)

// ErrCapacityExceeded marks a play request rejected at the concurrency cap.
var ErrCapacityExceeded = errors.New("animation capacity exceeded")

// Settings holds the scheduler's tunables.
type Settings struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" json:"max_concurrent"`
	FrameBudget   time.Duration `mapstructure:"frame_budget" json:"frame_budget"`
	AutoBlink     bool          `mapstructure:"auto_blink" json:"auto_blink"`
	BlinkMin      time.Duration `mapstructure:"blink_min" json:"blink_min"`
	BlinkMax      time.Duration `mapstructure:"blink_max" json:"blink_max"`
	Breathing     bool          `mapstructure:"breathing" json:"breathing"`
}

// DefaultSettings returns the default tunables.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrent: 3,
		FrameBudget:   10 * time.Millisecond,
		AutoBlink:     true,
		BlinkMin:      2 * time.Second,
		BlinkMax:      5 * time.Second,
		Breathing:     true,
	}
}

func (s Settings) normalized() Settings {
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}
	if s.FrameBudget <= 0 {
		s.FrameBudget = DefaultSettings().FrameBudget
	}
	if s.BlinkMin <= 0 {
		s.BlinkMin = DefaultSettings().BlinkMin
	}
	if s.BlinkMax < s.BlinkMin {
		s.BlinkMax = s.BlinkMin
	}
	return s
}

// Rand is the random source used for blink timing.
type Rand interface {
	Float64() float64
}

// Options configures a Scheduler. Zero fields take defaults.
type Options struct {
	Settings Settings
	Logger   zerolog.Logger
	Rand     Rand
	// Clock measures per-tick compute time.
	Clock func() time.Time
	// OnEvent receives notifications synchronously.
	OnEvent func(Event)
	// Overlay is applied after all instances on every tick.
	Overlay Overlay
}

// Overlay writes channels after the instance layers, e.g. lip-sync.
type Overlay interface {
	Apply(target av.PoseTarget)
}

// State is a snapshot for hosts and debugging.
type State struct {
	ActiveCount    int           `json:"active_count"`
	FrameRate      int           `json:"frame_rate"`
	CalcTime       time.Duration `json:"calc_time"`
	RunningIDs     []string      `json:"running_ids"`
	CurrentEmotion string        `json:"current_emotion,omitempty"`
	CurrentGesture string        `json:"current_gesture,omitempty"`
	Paused         bool          `json:"paused"`
	Enabled        bool          `json:"enabled"`
	BudgetWarnings int           `json:"budget_warnings"`
}

// Scheduler is the priority-preemptive animation scheduler.
type Scheduler struct {
	settings Settings
	logger   zerolog.Logger
	rng      Rand
	clock    func() time.Time
	onEvent  func(Event)
	overlay  Overlay

	target   av.PoseTarget
	resolver *av.Resolver
	rest     map[string]av.Transform
	warned   map[string]bool

	active   []*Instance
	admitted uint64
	enabled  bool
	paused   bool

	currentEmotion string
	currentGesture string
	breathingID    string
	nextBlink      time.Duration
	blinkArmed     bool

	lastTick       time.Duration
	frames         []time.Duration
	calcTime       time.Duration
	budgetWarnings int
	lastBudgetLog  time.Duration
	budgetLogged   bool
}

// New creates a scheduler with no pose target bound.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		settings: opts.Settings.normalized(),
		logger:   opts.Logger.With().Str("component", "scheduler").Logger(),
		rng:      opts.Rand,
		clock:    opts.Clock,
		onEvent:  opts.OnEvent,
		overlay:  opts.Overlay,
		rest:     make(map[string]av.Transform),
		warned:   make(map[string]bool),
		enabled:  true,
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// SetOverlay replaces the overlay applied after the instance layers.
func (s *Scheduler) SetOverlay(o Overlay) { s.overlay = o }

// Bind attaches a pose target. Instances driving the previous target are
// stopped and their channels reset there first.
func (s *Scheduler) Bind(target av.PoseTarget) {
	s.stopAll(EventStopped)
	s.target = target
	s.resolver = nil
	if target != nil {
		s.resolver = av.NewResolver(target)
	}
	s.rest = make(map[string]av.Transform)
	s.warned = make(map[string]bool)
	s.blinkArmed = false
	s.logger.Info().Bool("bound", target != nil).Msg("Pose target bound")
}

// Target returns the bound pose target.
func (s *Scheduler) Target() av.PoseTarget { return s.target }

// Resolver returns the channel resolver for the bound target.
func (s *Scheduler) Resolver() *av.Resolver { return s.resolver }

// Settings returns the active settings.
func (s *Scheduler) Settings() Settings { return s.settings }

// UpdateSettings replaces the tunables. Lowering the cap evicts down to it
// and disabling breathing stops the breathing instance.
func (s *Scheduler) UpdateSettings(settings Settings) {
	prev := s.settings
	s.settings = settings.normalized()

	for len(s.active) > s.settings.MaxConcurrent {
		s.evict(s.lowest())
	}
	if !s.settings.Breathing && s.breathingID != "" {
		s.Stop(s.breathingID)
	}
	if prev.AutoBlink != s.settings.AutoBlink || prev.BlinkMin != s.settings.BlinkMin || prev.BlinkMax != s.settings.BlinkMax {
		s.blinkArmed = false
	}
	s.logger.Debug().Interface("settings", s.settings).Msg("Settings updated")
}

// Play admits a sequence at the given priority and returns its id, or
// NoID when there is no target, the scheduler is disabled, the sequence
// is invalid or it ranks below everything at the cap.
func (s *Scheduler) Play(seq anim.Sequence, priority int) string {
	return s.play(seq, priority, LayerCustom)
}

// PlayEmotion replaces the current emotion animation. The previous one is
// stopped and its channels reset before the new one is admitted. Neutral
// only clears the current emotion.
func (s *Scheduler) PlayEmotion(e emotion.Emotion, intensity float64) string {
	if s.currentEmotion != "" {
		s.Stop(s.currentEmotion)
	}
	seq, ok := catalog.Emotion(e)
	if !ok {
		return NoID
	}
	id := s.play(anim.Scale(seq, clampIntensity(intensity)), PriorityHigh, LayerEmotion)
	s.currentEmotion = id
	return id
}

// PlayGesture replaces the current gesture animation.
func (s *Scheduler) PlayGesture(g catalog.GestureType, intensity float64) string {
	if s.currentGesture != "" {
		s.Stop(s.currentGesture)
	}
	seq, ok := catalog.Gesture(g)
	if !ok {
		s.logger.Warn().Str("gesture", string(g)).Msg("Unknown gesture")
		return NoID
	}
	id := s.play(anim.Scale(seq, clampIntensity(intensity)), PriorityHigh, LayerGesture)
	s.currentGesture = id
	return id
}

func clampIntensity(v float64) float32 {
	return av.Clamp(float32(v), 0, 1)
}

func (s *Scheduler) play(seq anim.Sequence, priority int, layer Layer) string {
	if s.target == nil {
		s.logger.Debug().Str("sequence", seq.Name).Msg("No pose target bound, ignoring play")
		return NoID
	}
	if !s.enabled {
		return NoID
	}
	if err := anim.Validate(seq); err != nil {
		s.logger.Warn().Err(err).Str("sequence", seq.Name).Msg("Rejected sequence")
		return NoID
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		Sequence:  seq,
		Priority:  priority,
		StartTime: s.lastTick,
		Paused:    s.paused,
		Layer:     layer,
		pausedAt:  s.lastTick,
	}

	for len(s.active) >= s.settings.MaxConcurrent {
		low := s.lowest()
		if inst.Priority < low.Priority {
			s.logger.Debug().
				Err(ErrCapacityExceeded).
				Str("sequence", seq.Name).
				Int("priority", priority).
				Msg("Play rejected at capacity")
			s.emit(Event{Type: EventRejected, Name: seq.Name, Layer: layer, Priority: priority})
			return NoID
		}
		s.evict(low)
	}

	s.admitted++
	inst.admitted = s.admitted
	s.bindChannels(inst)
	s.active = append(s.active, inst)

	s.logger.Debug().
		Str("id", inst.ID).
		Str("sequence", seq.Name).
		Str("layer", layer.String()).
		Int("priority", priority).
		Msg("Animation started")
	s.emit(Event{Type: EventStarted, ID: inst.ID, Name: seq.Name, Layer: layer, Priority: priority})
	return inst.ID
}

// bindChannels resolves the instance's channels on the rig and captures
// rest transforms for bones driven for the first time.
func (s *Scheduler) bindChannels(inst *Instance) {
	shapes, bones := inst.Sequence.Channels()
	inst.shapes = make(map[string]string, len(shapes))
	inst.bones = make(map[string]string, len(bones))

	for _, name := range shapes {
		if rig, ok := s.resolver.BlendShape(name); ok {
			inst.shapes[name] = rig
		} else {
			s.warnMissing("blend_shape", name)
		}
	}
	for _, name := range bones {
		rig, ok := s.resolver.Bone(name)
		if !ok {
			s.warnMissing("bone", name)
			continue
		}
		inst.bones[name] = rig
		if _, seen := s.rest[rig]; !seen {
			t, ok := s.target.BoneTransform(rig)
			if !ok {
				t = av.IdentityTransform()
			}
			s.rest[rig] = t
		}
	}
}

func (s *Scheduler) warnMissing(kind, name string) {
	key := kind + ":" + name
	if s.warned[key] {
		return
	}
	s.warned[key] = true
	s.logger.Warn().
		Err(av.ErrChannelUnavailable).
		Str(kind, name).
		Msg("Rig has no channel, skipping")
}

// Stop removes an instance and resets its channels. Unknown ids are ignored.
func (s *Scheduler) Stop(id string) {
	if i := s.index(id); i >= 0 {
		s.remove(i, EventStopped)
	}
}

// PauseAll pauses every active instance.
func (s *Scheduler) PauseAll() {
	if s.paused {
		return
	}
	s.paused = true
	for _, inst := range s.active {
		inst.Paused = true
		inst.pausedAt = s.lastTick
	}
}

// ResumeAll resumes every instance. Playback continues from where each
// instance was paused.
func (s *Scheduler) ResumeAll() {
	if !s.paused {
		return
	}
	s.paused = false
	for _, inst := range s.active {
		if inst.Paused {
			inst.StartTime += s.lastTick - inst.pausedAt
			inst.Paused = false
		}
	}
	// The blink gap restarts rather than firing one overdue from the pause.
	s.blinkArmed = false
}

// SetEnabled turns the scheduler on or off. Disabling stops every instance
// with a full channel reset and suspends idle animation.
func (s *Scheduler) SetEnabled(enabled bool) {
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if !enabled {
		s.stopAll(EventStopped)
		if s.overlay != nil {
			if r, ok := s.overlay.(interface{ Reset(av.PoseTarget) }); ok {
				r.Reset(s.target)
			}
		}
	}
	s.blinkArmed = false
	s.logger.Info().Bool("enabled", enabled).Msg("Animation enabled changed")
}

// Enabled reports whether the scheduler accepts and runs animations.
func (s *Scheduler) Enabled() bool { return s.enabled }

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	ids := make([]string, len(s.active))
	for i, inst := range s.active {
		ids[i] = inst.ID
	}
	return State{
		ActiveCount:    len(s.active),
		FrameRate:      len(s.frames),
		CalcTime:       s.calcTime,
		RunningIDs:     ids,
		CurrentEmotion: s.currentEmotion,
		CurrentGesture: s.currentGesture,
		Paused:         s.paused,
		Enabled:        s.enabled,
		BudgetWarnings: s.budgetWarnings,
	}
}

// Instance returns a copy of the active instance with the given id.
func (s *Scheduler) Instance(id string) (Instance, bool) {
	if i := s.index(id); i >= 0 {
		return *s.active[i], true
	}
	return Instance{}, false
}

func (s *Scheduler) index(id string) int {
	if id == NoID {
		return -1
	}
	for i, inst := range s.active {
		if inst.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) lowest() *Instance {
	var low *Instance
	for _, inst := range s.active {
		if low == nil || inst.lowerThan(low) {
			low = inst
		}
	}
	return low
}

func (s *Scheduler) evict(inst *Instance) {
	if i := s.index(inst.ID); i >= 0 {
		s.logger.Debug().
			Str("id", inst.ID).
			Str("sequence", inst.Sequence.Name).
			Int("priority", inst.Priority).
			Msg("Evicted at capacity")
		s.remove(i, EventEvicted)
	}
}

// remove drops the instance at i, resets its channels and clears any slot
// that tracked it.
func (s *Scheduler) remove(i int, reason EventType) {
	inst := s.active[i]
	s.active = append(s.active[:i], s.active[i+1:]...)
	s.reset(inst)

	switch inst.ID {
	case s.currentEmotion:
		s.currentEmotion = ""
	case s.currentGesture:
		s.currentGesture = ""
	case s.breathingID:
		s.breathingID = ""
	}
	s.emit(Event{Type: reason, ID: inst.ID, Name: inst.Sequence.Name, Layer: inst.Layer, Priority: inst.Priority, At: s.lastTick})
}

// reset zeroes the instance's blend shapes and restores its bones to rest.
func (s *Scheduler) reset(inst *Instance) {
	if s.target == nil {
		return
	}
	for _, rig := range sortedValues(inst.shapes) {
		s.target.SetBlendShapeWeight(rig, 0)
	}
	for _, rig := range sortedValues(inst.bones) {
		s.target.SetBoneTransform(rig, s.restFor(rig))
	}
}

func (s *Scheduler) restFor(rig string) av.Transform {
	if t, ok := s.rest[rig]; ok {
		return t
	}
	return av.IdentityTransform()
}

func (s *Scheduler) stopAll(reason EventType) {
	for len(s.active) > 0 {
		s.remove(len(s.active)-1, reason)
	}
}

func (s *Scheduler) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
