// Package pipeline runs the capture-cadence side of lip-sync: audio chunks
// in, stabilised phoneme results out. Results leave by channel as values so
// the render loop never shares state with the analysis goroutines.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/avatarmotion/internal/audio"
	"github.com/normanking/avatarmotion/internal/phoneme"
)

// Config holds pipeline settings.
type Config struct {
	Analyzer         audio.AnalyzerConfig
	VAD              audio.VADConfig
	AnalysisInterval time.Duration
	SilenceThreshold float64
	MinConfidence    float64
	InputBuffer      int
	OutputBuffer     int
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Analyzer:         audio.DefaultAnalyzerConfig(),
		VAD:              audio.DefaultVADConfig(),
		AnalysisInterval: time.Second / 60,
		SilenceThreshold: phoneme.DefaultSilenceThreshold,
		MinConfidence:    0.3,
		InputBuffer:      32,
		OutputBuffer:     64,
	}
}

// Kind tags an Output.
type Kind int

const (
	KindPhoneme Kind = iota
	KindSpeechStart
	KindSpeechEnd
)

func (k Kind) String() string {
	switch k {
	case KindPhoneme:
		return "phoneme"
	case KindSpeechStart:
		return "speech_start"
	case KindSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Output is one message from the pipeline.
type Output struct {
	Kind    Kind
	Phoneme phoneme.Result // stabilised result, KindPhoneme only
	Raw     string         // unsmoothed label, KindPhoneme only
	At      time.Duration
}

// Pipeline wires analyzer, classifier, smoother and VAD together.
type Pipeline struct {
	config Config
	logger zerolog.Logger

	analyzer   *audio.Analyzer
	vad        *audio.VAD
	classifier *phoneme.Classifier

	mu       sync.Mutex
	smoother *phoneme.Smoother
	latest   time.Duration
	fed      bool
	fresh    bool // audio arrived since the last cadence analysis
	arrived  time.Time
	stalled  bool // silence already sent for the current capture gap
	now      func() time.Time

	in      chan audio.Chunk
	out     chan Output
	dropped atomic.Int64
}

// New creates a pipeline.
func New(config Config, logger zerolog.Logger) *Pipeline {
	def := DefaultConfig()
	if config.AnalysisInterval <= 0 {
		config.AnalysisInterval = def.AnalysisInterval
	}
	if config.InputBuffer <= 0 {
		config.InputBuffer = def.InputBuffer
	}
	if config.OutputBuffer <= 0 {
		config.OutputBuffer = def.OutputBuffer
	}
	return &Pipeline{
		config:     config,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		analyzer:   audio.NewAnalyzer(config.Analyzer, logger),
		vad:        audio.NewVAD(config.VAD),
		classifier: phoneme.NewClassifier(config.SilenceThreshold),
		smoother:   phoneme.NewSmoother(),
		in:         make(chan audio.Chunk, config.InputBuffer),
		out:        make(chan Output, config.OutputBuffer),
		now:        time.Now,
	}
}

// Push queues a chunk without blocking.
func (p *Pipeline) Push(c audio.Chunk) error {
	select {
	case p.in <- c:
		return nil
	default:
		return fmt.Errorf("push chunk at %s: %w", c.Timestamp, audio.ErrBufferFull)
	}
}

// Results delivers pipeline output.
func (p *Pipeline) Results() <-chan Output { return p.out }

// Dropped counts outputs discarded because Results was not drained.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Run ingests chunks and analyses on the configured cadence until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case c := <-p.in:
				for _, o := range p.Ingest(c) {
					p.emit(o)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(p.config.AnalysisInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if at, ok := p.takeFresh(); ok {
					p.emit(p.Analyze(at))
					continue
				}
				for _, o := range p.Stall(p.now()) {
					p.emit(o)
				}
			}
		}
	})

	p.logger.Info().Dur("interval", p.config.AnalysisInterval).Msg("Audio pipeline running")
	err := g.Wait()
	p.logger.Info().Msg("Audio pipeline stopped")
	return err
}

// Ingest feeds a chunk to the analyzer and VAD and returns any speech
// boundary it produced.
func (p *Pipeline) Ingest(c audio.Chunk) []Output {
	p.analyzer.Write(c.Samples)
	p.mu.Lock()
	if !p.fed || c.Timestamp > p.latest {
		p.latest = c.Timestamp
	}
	p.fed = true
	p.fresh = true
	p.arrived = p.now()
	p.stalled = false
	p.mu.Unlock()

	r := p.vad.Process(c.Samples, c.Timestamp)
	var out []Output
	if r.Started {
		out = append(out, Output{Kind: KindSpeechStart, At: c.Timestamp})
	}
	if r.Ended {
		out = append(out, Output{Kind: KindSpeechEnd, At: c.Timestamp})
	}
	return out
}

// Analyze measures the buffered audio at the given capture time and
// returns the stabilised phoneme. Classifications below MinConfidence
// count as silence.
func (p *Pipeline) Analyze(at time.Duration) Output {
	m := p.analyzer.Analyze(at)
	formants := phoneme.Formants{F1: m.F1, F2: m.F2, F3: m.F3}

	label, conf := p.classifier.Classify(formants, m.Volume)
	raw := label

	p.mu.Lock()
	if label != phoneme.Silence && conf < p.config.MinConfidence {
		label = phoneme.Silence
	}
	stable := p.smoother.Add(phoneme.Result{
		Phoneme:    label,
		Confidence: conf,
		Formants:   formants,
		Volume:     m.Volume,
		Timestamp:  at,
	})
	stableConf := p.smoother.Confidence(stable)
	p.mu.Unlock()

	return Output{
		Kind: KindPhoneme,
		Phoneme: phoneme.Result{
			Phoneme:    stable,
			Confidence: stableConf,
			Formants:   formants,
			Volume:     m.Volume,
			Timestamp:  at,
		},
		Raw: raw,
		At:  at,
	}
}

// Stall closes the mouth once capture has gone quiet for longer than the
// smoother keeps history. It returns a single silence result, preceded by a
// speech end if the VAD was still open, and nothing until audio resumes.
func (p *Pipeline) Stall(now time.Time) []Output {
	p.mu.Lock()
	gap := now.Sub(p.arrived)
	if !p.fed || p.fresh || p.stalled || gap <= phoneme.DefaultMaxAge {
		p.mu.Unlock()
		return nil
	}
	p.stalled = true
	p.smoother.Reset()
	at := p.latest + gap
	p.mu.Unlock()

	var out []Output
	if p.vad.IsActive() {
		p.vad.Reset()
		out = append(out, Output{Kind: KindSpeechEnd, At: at})
	}
	p.logger.Debug().Dur("gap", gap).Msg("Capture stalled, closing mouth")
	return append(out, Output{
		Kind:    KindPhoneme,
		Phoneme: phoneme.Result{Phoneme: phoneme.Silence, Confidence: 1, Timestamp: at},
		Raw:     phoneme.Silence,
		At:      at,
	})
}

// SetMinConfidence changes the low-confidence gate.
func (p *Pipeline) SetMinConfidence(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.MinConfidence = v
}

// Reset drops buffered audio, smoothing history and VAD state.
func (p *Pipeline) Reset() {
	p.analyzer.Reset()
	p.vad.Reset()
	p.mu.Lock()
	p.smoother.Reset()
	p.fed = false
	p.fresh = false
	p.stalled = false
	p.mu.Unlock()
}

// takeFresh returns the newest capture time if audio arrived since the
// last call.
func (p *Pipeline) takeFresh() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fed || !p.fresh {
		return 0, false
	}
	p.fresh = false
	return p.latest, true
}

func (p *Pipeline) emit(o Output) {
	select {
	case p.out <- o:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn().Int64("dropped", n).Msg("Pipeline output not drained, dropping results")
		}
	}
}
