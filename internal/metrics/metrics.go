// Package metrics exposes Prometheus collectors for the animation core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the core's metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	tickDuration    prometheus.Histogram
	budgetOverruns  prometheus.Counter
	activeInstances prometheus.Gauge
	frameRate       prometheus.Gauge
	animations      *prometheus.CounterVec
	phonemes        *prometheus.CounterVec
	emotions        *prometheus.CounterVec
	sessionTimeouts prometheus.Counter
	droppedChunks   prometheus.Counter
}

// NewCollector registers the collectors on reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Compute time of one scheduler tick",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.01, 0.016, 0.033},
		}),
		budgetOverruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_budget_overruns_total",
			Help:      "Ticks whose compute time exceeded the frame budget",
		}),
		activeInstances: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_animations",
			Help:      "Animation instances currently active",
		}),
		frameRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_rate",
			Help:      "Ticks observed over the last second",
		}),
		animations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "animation_events_total",
			Help:      "Animation lifecycle events by type and layer",
		}, []string{"event", "layer"}),
		phonemes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phonemes_total",
			Help:      "Stabilised phonemes applied to the lip-sync blender",
		}, []string{"phoneme"}),
		emotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emotions_total",
			Help:      "Emotion analysis results by emotion and outcome",
		}, []string{"emotion", "outcome"}),
		sessionTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_session_timeouts_total",
			Help:      "Speech sessions force-terminated by the watchdog",
		}),
		droppedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_audio_chunks_total",
			Help:      "Audio chunks rejected because the pipeline input was full",
		}),
	}
}

// ObserveTick records one tick.
func (c *Collector) ObserveTick(elapsed time.Duration, active, frameRate int) {
	if c == nil {
		return
	}
	c.tickDuration.Observe(elapsed.Seconds())
	c.activeInstances.Set(float64(active))
	c.frameRate.Set(float64(frameRate))
}

// BudgetOverrun counts a tick over budget.
func (c *Collector) BudgetOverrun() {
	if c == nil {
		return
	}
	c.budgetOverruns.Inc()
}

// AnimationEvent counts a scheduler lifecycle event.
func (c *Collector) AnimationEvent(event, layer string) {
	if c == nil {
		return
	}
	c.animations.WithLabelValues(event, layer).Inc()
}

// Phoneme counts a stabilised phoneme.
func (c *Collector) Phoneme(name string) {
	if c == nil {
		return
	}
	c.phonemes.WithLabelValues(name).Inc()
}

// Emotion counts an emotion result. outcome is "played" or "ignored".
func (c *Collector) Emotion(emotion, outcome string) {
	if c == nil {
		return
	}
	c.emotions.WithLabelValues(emotion, outcome).Inc()
}

// SessionTimeout counts a watchdog termination.
func (c *Collector) SessionTimeout() {
	if c == nil {
		return
	}
	c.sessionTimeouts.Inc()
}

// DroppedChunk counts an audio chunk rejected at the pipeline input.
func (c *Collector) DroppedChunk() {
	if c == nil {
		return
	}
	c.droppedChunks.Inc()
}
