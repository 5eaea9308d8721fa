package audio

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Voice band searched for formant peaks.
const (
	VoiceBandLow  = 100.0
	VoiceBandHigh = 4000.0
)

// AnalyzerConfig holds spectral analysis settings.
type AnalyzerConfig struct {
	SampleRate     int     `json:"sample_rate"`     // Default: 16000 Hz
	FFTSize        int     `json:"fft_size"`        // Default: 1024, power of two
	MagnitudeFloor float64 `json:"magnitude_floor"` // Peaks below this are noise, default 0.01
	VolumeGain     float64 `json:"volume_gain"`     // RMS multiplier before clamping, default 2
}

// DefaultAnalyzerConfig returns sensible defaults
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate:     16000,
		FFTSize:        1024,
		MagnitudeFloor: 0.01,
		VolumeGain:     2,
	}
}

// Analyzer keeps the most recent FFTSize samples and measures them on
// demand. Write and Analyze may be called from different goroutines.
type Analyzer struct {
	mu     sync.Mutex
	config AnalyzerConfig
	logger zerolog.Logger

	fft    *fourier.FFT
	buf    []float64
	frame  []float64
	coeffs []complex128
}

// NewAnalyzer creates an analyzer. Zero config fields take defaults.
func NewAnalyzer(config AnalyzerConfig, logger zerolog.Logger) *Analyzer {
	def := DefaultAnalyzerConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.FFTSize <= 0 {
		config.FFTSize = def.FFTSize
	}
	if config.MagnitudeFloor <= 0 {
		config.MagnitudeFloor = def.MagnitudeFloor
	}
	if config.VolumeGain <= 0 {
		config.VolumeGain = def.VolumeGain
	}
	return &Analyzer{
		config: config,
		logger: logger.With().Str("component", "audio-analyzer").Logger(),
		fft:    fourier.NewFFT(config.FFTSize),
		buf:    make([]float64, 0, config.FFTSize),
		frame:  make([]float64, config.FFTSize),
		coeffs: make([]complex128, config.FFTSize/2+1),
	}
}

// Config returns the active configuration.
func (a *Analyzer) Config() AnalyzerConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Write appends samples, keeping only the newest FFTSize of them.
func (a *Analyzer) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.config.FFTSize
	if len(samples) >= n {
		samples = samples[len(samples)-n:]
		a.buf = a.buf[:0]
	}
	if over := len(a.buf) + len(samples) - n; over > 0 {
		a.buf = append(a.buf[:0], a.buf[over:]...)
	}
	for _, s := range samples {
		a.buf = append(a.buf, float64(s))
	}
}

// Analyze measures the buffered window. Fewer than FFTSize buffered samples
// are zero-padded.
func (a *Analyzer) Analyze(at time.Duration) Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := Measurement{Timestamp: at}
	if len(a.buf) == 0 {
		return m
	}

	var sum float64
	for _, s := range a.buf {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(a.buf)))
	m.Volume = math.Min(1, rms*a.config.VolumeGain)

	copy(a.frame, a.buf)
	for i := len(a.buf); i < len(a.frame); i++ {
		a.frame[i] = 0
	}
	window.Hann(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	peaks := a.peaks()
	if len(peaks) > 0 {
		m.F1 = peaks[0].freq
	}
	if len(peaks) > 1 {
		m.F2 = peaks[1].freq
	}
	if len(peaks) > 2 {
		m.F3 = peaks[2].freq
	}
	return m
}

// Reset drops buffered samples.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf[:0]
}

type peak struct {
	freq float64
	mag  float64
}

// peaks returns up to three local spectral maxima inside the voice band and
// above the magnitude floor, strongest first.
func (a *Analyzer) peaks() []peak {
	n := a.config.FFTSize
	rate := float64(a.config.SampleRate)
	// A Hann-windowed sinusoid of amplitude A peaks at A*n/4.
	scale := 4 / float64(n)

	mags := make([]float64, len(a.coeffs))
	for i, c := range a.coeffs {
		mags[i] = math.Hypot(real(c), imag(c)) * scale
	}

	var found []peak
	for i := 1; i < len(mags)-1; i++ {
		f := a.fft.Freq(i) * rate
		if f < VoiceBandLow || f > VoiceBandHigh {
			continue
		}
		if mags[i] < a.config.MagnitudeFloor {
			continue
		}
		if mags[i] > mags[i-1] && mags[i] >= mags[i+1] {
			found = append(found, peak{freq: f, mag: mags[i]})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].mag > found[j].mag })
	if len(found) > 3 {
		found = found[:3]
	}
	return found
}
