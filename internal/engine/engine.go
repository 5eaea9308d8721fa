// Package engine is the host-facing handle for the avatar animation core.
// A host constructs one Engine per avatar, binds a pose target, calls Tick
// once per rendered frame and feeds it audio and response text.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/avatarmotion/internal/anim"
	"github.com/normanking/avatarmotion/internal/audio"
	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/catalog"
	"github.com/normanking/avatarmotion/internal/emotion"
	"github.com/normanking/avatarmotion/internal/lipsync"
	"github.com/normanking/avatarmotion/internal/metrics"
	"github.com/normanking/avatarmotion/internal/phoneme"
	"github.com/normanking/avatarmotion/internal/pipeline"
	"github.com/normanking/avatarmotion/internal/scheduler"
	"github.com/normanking/avatarmotion/internal/session"
)

// Errors returned by Engine operations. None of them leave the avatar in
// anything but a neutral, valid pose.
var (
	ErrNoPoseTarget = errors.New("no pose target bound")
	ErrDisabled     = errors.New("animation disabled")
	ErrUnknown      = errors.New("unknown emotion or gesture")
)

// Config is the engine's full configuration.
type Config struct {
	Scheduler            scheduler.Settings
	LipSync              lipsync.Config
	Pipeline             pipeline.Config
	Session              session.Config
	EmotionMinConfidence float64
	Enabled              bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Scheduler:            scheduler.DefaultSettings(),
		LipSync:              lipsync.DefaultConfig(),
		Pipeline:             pipeline.DefaultConfig(),
		Session:              session.DefaultConfig(),
		EmotionMinConfidence: 0.35,
		Enabled:              true,
	}
}

// Options configures an Engine. Bus and Metrics are optional.
type Options struct {
	Config  Config
	Logger  zerolog.Logger
	Bus     *bus.EventBus
	Metrics *metrics.Collector
	Rand    scheduler.Rand
	Clock   func() time.Time
}

// State is the snapshot returned by State.
type State struct {
	scheduler.State
	Phoneme     string          `json:"phoneme"`
	Speaking    bool            `json:"speaking"`
	LastEmotion *emotion.Result `json:"last_emotion,omitempty"`
}

// Engine serialises host calls, config reloads and pipeline hand-off
// behind one mutex; the scheduler itself stays single-threaded.
type Engine struct {
	mu sync.Mutex

	config  Config
	logger  zerolog.Logger
	bus     *bus.EventBus
	metrics *metrics.Collector

	sched    *scheduler.Scheduler
	blender  *lipsync.Blender
	pipeline *pipeline.Pipeline
	watchdog *session.Watchdog
	emotions *emotion.Analyzer

	speechID    string
	lastPhoneme string
}

// New creates an engine with no pose target bound.
func New(opts Options) *Engine {
	e := &Engine{
		config:      opts.Config,
		logger:      opts.Logger.With().Str("component", "engine").Logger(),
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		lastPhoneme: phoneme.Silence,
	}
	e.blender = lipsync.NewBlender(opts.Config.LipSync, opts.Logger)
	e.sched = scheduler.New(scheduler.Options{
		Settings: opts.Config.Scheduler,
		Logger:   opts.Logger,
		Rand:     opts.Rand,
		Clock:    opts.Clock,
		OnEvent:  e.onSchedulerEvent,
		Overlay:  e.blender,
	})
	e.pipeline = pipeline.New(opts.Config.Pipeline, opts.Logger)
	e.watchdog = session.NewWatchdog(opts.Config.Session, opts.Logger)
	e.emotions = emotion.NewAnalyzer(opts.Logger)

	if !opts.Config.Enabled {
		e.sched.SetEnabled(false)
	}
	return e
}

// BindPoseTarget attaches the avatar's pose target. Passing nil unbinds.
func (e *Engine) BindPoseTarget(target av.PoseTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.Bind(target)
	e.blender.Bind(e.sched.Resolver())
}

// Play admits a custom sequence. On failure the id is scheduler.NoID.
func (e *Engine) Play(seq anim.Sequence, priority int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return scheduler.NoID, err
	}
	if err := anim.Validate(seq); err != nil {
		return scheduler.NoID, err
	}
	id := e.sched.Play(seq, priority)
	if id == scheduler.NoID {
		return id, fmt.Errorf("play %q at priority %d: %w", seq.Name, priority, scheduler.ErrCapacityExceeded)
	}
	return id, nil
}

// PlayEmotion plays the catalog expression for em scaled by intensity.
// Neutral clears the current expression and returns no id.
func (e *Engine) PlayEmotion(em emotion.Emotion, intensity float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playEmotion(em, intensity)
}

func (e *Engine) playEmotion(em emotion.Emotion, intensity float64) (string, error) {
	if !em.Valid() {
		return scheduler.NoID, fmt.Errorf("emotion %q: %w", em, ErrUnknown)
	}
	if err := e.ready(); err != nil {
		return scheduler.NoID, err
	}
	id := e.sched.PlayEmotion(em, intensity)
	if id == scheduler.NoID && em != emotion.Neutral {
		return id, fmt.Errorf("emotion %q: %w", em, scheduler.ErrCapacityExceeded)
	}
	e.publish(bus.EventTypeEmotionChanged, map[string]any{
		"emotion":   string(em),
		"intensity": intensity,
		"id":        id,
	})
	return id, nil
}

// PlayGesture plays a catalog gesture scaled by intensity.
func (e *Engine) PlayGesture(g catalog.GestureType, intensity float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := catalog.Gesture(g); !ok {
		return scheduler.NoID, fmt.Errorf("gesture %q: %w", g, ErrUnknown)
	}
	if err := e.ready(); err != nil {
		return scheduler.NoID, err
	}
	id := e.sched.PlayGesture(g, intensity)
	if id == scheduler.NoID {
		return id, fmt.Errorf("gesture %q: %w", g, scheduler.ErrCapacityExceeded)
	}
	return id, nil
}

func (e *Engine) ready() error {
	if e.sched.Target() == nil {
		return ErrNoPoseTarget
	}
	if !e.sched.Enabled() {
		return ErrDisabled
	}
	return nil
}

// Stop stops an instance. Unknown ids are ignored.
func (e *Engine) Stop(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.Stop(id)
}

// PauseAll pauses every active instance.
func (e *Engine) PauseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.PauseAll()
}

// ResumeAll resumes every paused instance.
func (e *Engine) ResumeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.ResumeAll()
}

// SetEnabled turns animation on or off. Disabling resets every driven
// channel, including lip-sync.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setEnabled(enabled)
}

func (e *Engine) setEnabled(enabled bool) {
	if e.sched.Enabled() == enabled {
		return
	}
	e.sched.SetEnabled(enabled)
	e.config.Enabled = enabled
	if !enabled {
		e.lastPhoneme = phoneme.Silence
	}
	e.publish(bus.EventTypeEnabledChanged, map[string]any{"enabled": enabled})
}

// Tick advances the avatar to timestamp: pipeline results and watchdog
// expiries queued since the last frame are applied, then the scheduler
// composites and writes the pose.
func (e *Engine) Tick(timestamp time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.drainPipeline()
	e.drainWatchdog()

	e.sched.Tick(timestamp)

	st := e.sched.State()
	e.metrics.ObserveTick(st.CalcTime, st.ActiveCount, st.FrameRate)
}

func (e *Engine) drainPipeline() {
	for {
		select {
		case out := <-e.pipeline.Results():
			e.applyOutput(out)
		default:
			return
		}
	}
}

func (e *Engine) applyOutput(out pipeline.Output) {
	switch out.Kind {
	case pipeline.KindSpeechStart:
		e.beginSpeech()
	case pipeline.KindSpeechEnd:
		e.endSpeech()
	case pipeline.KindPhoneme:
		if !e.sched.Enabled() {
			return
		}
		r := out.Phoneme
		e.blender.SetTarget(r.Phoneme, r.Confidence, r.Formants)
		e.metrics.Phoneme(r.Phoneme)
		if r.Phoneme != e.lastPhoneme {
			e.lastPhoneme = r.Phoneme
			e.publish(bus.EventTypeMouthShapeChanged, map[string]any{
				"phoneme":    r.Phoneme,
				"confidence": r.Confidence,
				"volume":     r.Volume,
			})
		}
	}
}

func (e *Engine) drainWatchdog() {
	for {
		select {
		case exp := <-e.watchdog.Expired():
			e.expire(exp)
		default:
			return
		}
	}
}

// expire force-stops a timed-out speech session and returns the face to
// neutral.
func (e *Engine) expire(exp session.Expiry) {
	e.metrics.SessionTimeout()
	e.publish(bus.EventTypeSessionTimeout, map[string]any{
		"session": exp.ID,
		"elapsed": exp.Elapsed.String(),
	})
	if exp.ID != e.speechID {
		return
	}
	e.speechID = ""
	e.pipeline.Reset()
	e.blender.Reset(e.sched.Target())
	e.lastPhoneme = phoneme.Silence
	e.sched.PlayEmotion(emotion.Neutral, 0)
	e.logger.Warn().Err(exp.Err).Str("session", exp.ID).Msg("Speech session reset to neutral")
}

// BeginSpeech opens a watchdog-guarded speech session, e.g. for TTS
// playback, and returns its id. An open session is reused.
func (e *Engine) BeginSpeech() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginSpeech()
}

func (e *Engine) beginSpeech() string {
	if e.speechID != "" {
		return e.speechID
	}
	e.speechID = e.watchdog.Begin()
	e.publish(bus.EventTypeSpeechStart, map[string]any{"session": e.speechID})
	return e.speechID
}

// EndSpeech closes the open speech session and lets the mouth settle.
func (e *Engine) EndSpeech() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endSpeech()
}

func (e *Engine) endSpeech() {
	if e.speechID == "" {
		return
	}
	e.watchdog.End(e.speechID)
	e.publish(bus.EventTypeSpeechEnd, map[string]any{"session": e.speechID})
	e.speechID = ""
	e.blender.SetTarget(phoneme.Silence, 1, phoneme.Formants{})
	e.lastPhoneme = phoneme.Silence
}

// HandleResponse analyses response text and plays the matching
// expression. Neutral or low-confidence results trigger nothing.
func (e *Engine) HandleResponse(text string) (emotion.Result, string, error) {
	result := e.emotions.Analyze(text)

	e.mu.Lock()
	defer e.mu.Unlock()

	if result.Emotion == emotion.Neutral || result.Confidence < e.config.EmotionMinConfidence {
		e.metrics.Emotion(string(result.Emotion), "ignored")
		e.logger.Debug().
			Str("emotion", string(result.Emotion)).
			Float64("confidence", result.Confidence).
			Msg("No expression for response")
		return result, scheduler.NoID, nil
	}

	id, err := e.playEmotion(result.Emotion, result.Intensity)
	if err != nil {
		e.metrics.Emotion(string(result.Emotion), "ignored")
		return result, id, err
	}
	e.metrics.Emotion(string(result.Emotion), "played")
	return result, id, nil
}

// PushAudio queues captured samples for analysis without blocking.
func (e *Engine) PushAudio(c audio.Chunk) error {
	if err := e.pipeline.Push(c); err != nil {
		e.metrics.DroppedChunk()
		return err
	}
	return nil
}

// PushPCM decodes little-endian PCM and queues it.
func (e *Engine) PushPCM(data []byte, bitDepth int, timestamp time.Duration) error {
	samples, err := audio.Decode(data, bitDepth)
	if err != nil {
		return err
	}
	return e.PushAudio(audio.Chunk{Samples: samples, Timestamp: timestamp})
}

// Run drives the audio pipeline and the session watchdog until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pipeline.Run(ctx) })
	g.Go(func() error { return e.watchdog.Run(ctx) })
	return g.Wait()
}

// State returns a snapshot for hosts and debugging.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		State:    e.sched.State(),
		Phoneme:  e.blender.Phoneme(),
		Speaking: e.speechID != "",
	}
	if last, ok := e.emotions.Last(); ok {
		st.LastEmotion = &last
	}
	return st
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func (e *Engine) onSchedulerEvent(ev scheduler.Event) {
	if ev.Type == scheduler.EventBudgetExceeded {
		e.metrics.BudgetOverrun()
		e.publish(bus.EventTypeBudgetExceeded, map[string]any{
			"elapsed": ev.Elapsed.String(),
			"at":      ev.At.String(),
		})
		return
	}
	e.metrics.AnimationEvent(string(ev.Type), ev.Layer.String())
	e.publish(bus.EventType(ev.Type), map[string]any{
		"id":       ev.ID,
		"name":     ev.Name,
		"layer":    ev.Layer.String(),
		"priority": ev.Priority,
	})
}

func (e *Engine) publish(t bus.EventType, data map[string]any) {
	if e.bus != nil {
		e.bus.Publish(bus.Event{Type: t, Data: data})
	}
}
