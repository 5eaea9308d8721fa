package audio

import (
	"math"
	"sync"
	"time"
)

// VAD implements Voice Activity Detection using RMS energy analysis.
// Timestamps are supplied by the caller so hangover timing follows the
// capture clock.
type VAD struct {
	config VADConfig
	mu     sync.RWMutex

	// State
	isActive   bool
	lastActive time.Duration

	// Smoothing
	energyHistory []float64
	historyIndex  int
}

// VADConfig holds VAD configuration
type VADConfig struct {
	Threshold       float64       `json:"threshold"`        // Energy threshold (0-1), default 0.01
	SmoothingFrames int           `json:"smoothing_frames"` // Number of frames to smooth, default 5
	MaxSilence      time.Duration `json:"max_silence"`      // Max silence before end, default 500ms
}

// DefaultVADConfig returns sensible defaults
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:       0.01, // RMS threshold
		SmoothingFrames: 5,
		MaxSilence:      500 * time.Millisecond,
	}
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	IsSpeech   bool    `json:"is_speech"`
	Confidence float64 `json:"confidence"`
	RMS        float64 `json:"rms"`
	Started    bool    `json:"started"` // speech began on this chunk
	Ended      bool    `json:"ended"`   // speech ended on this chunk
}

// NewVAD creates a new VAD instance
func NewVAD(config VADConfig) *VAD {
	if config.SmoothingFrames <= 0 {
		config.SmoothingFrames = DefaultVADConfig().SmoothingFrames
	}
	return &VAD{
		config:        config,
		energyHistory: make([]float64, config.SmoothingFrames),
	}
}

// Process analyzes a chunk captured at the given time.
func (v *VAD) Process(samples []float32, at time.Duration) VADResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	rms := RMS(samples)

	v.energyHistory[v.historyIndex] = rms
	v.historyIndex = (v.historyIndex + 1) % len(v.energyHistory)

	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	smoothedRMS := sum / float64(len(v.energyHistory))

	wasActive := v.isActive
	isSpeech := smoothedRMS >= v.config.Threshold

	if isSpeech {
		v.isActive = true
		v.lastActive = at
	} else if v.isActive {
		if at-v.lastActive > v.config.MaxSilence {
			v.isActive = false
		} else {
			// Still in speech segment (within silence tolerance)
			isSpeech = true
		}
	}

	// Confidence based on how far above/below threshold
	var confidence float64
	if isSpeech {
		confidence = math.Min(1.0, 0.5+(smoothedRMS-v.config.Threshold)*10)
	} else {
		confidence = math.Max(0.0, 0.5-(v.config.Threshold-smoothedRMS)*10)
	}

	return VADResult{
		IsSpeech:   isSpeech,
		Confidence: confidence,
		RMS:        smoothedRMS,
		Started:    !wasActive && v.isActive,
		Ended:      wasActive && !v.isActive,
	}
}

// IsActive returns whether speech is currently detected
func (v *VAD) IsActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isActive
}

// Reset clears VAD state
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isActive = false
	v.historyIndex = 0
	for i := range v.energyHistory {
		v.energyHistory[i] = 0
	}
}

// UpdateConfig updates VAD configuration
func (v *VAD) UpdateConfig(config VADConfig) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if config.SmoothingFrames <= 0 {
		config.SmoothingFrames = len(v.energyHistory)
	}
	v.config = config

	// Resize history if needed
	if len(v.energyHistory) != config.SmoothingFrames {
		v.energyHistory = make([]float64, config.SmoothingFrames)
		v.historyIndex = 0
	}
}
