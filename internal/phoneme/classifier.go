package phoneme

import (
	"math"
	"time"
)

// Formants holds the three strongest spectral peaks in Hz.
type Formants struct {
	F1 float64 `json:"f1"`
	F2 float64 `json:"f2"`
	F3 float64 `json:"f3"`
}

// Result is one analysis tick's classification.
type Result struct {
	Phoneme    string        `json:"phoneme"`
	Confidence float64       `json:"confidence"`
	Formants   Formants      `json:"formants"`
	Volume     float64       `json:"volume"`
	Timestamp  time.Duration `json:"timestamp"`
}

// DefaultSilenceThreshold is the volume below which input is silence.
const DefaultSilenceThreshold = 0.02

// Classifier scores formants against the phoneme catalog.
type Classifier struct {
	silenceThreshold float64
}

// NewClassifier creates a classifier. A non-positive threshold selects
// DefaultSilenceThreshold.
func NewClassifier(silenceThreshold float64) *Classifier {
	if silenceThreshold <= 0 {
		silenceThreshold = DefaultSilenceThreshold
	}
	return &Classifier{silenceThreshold: silenceThreshold}
}

// Classify returns the best matching phoneme and its averaged F1/F2 match
// score. Quiet input is silence with full confidence. When no entry's
// volume threshold is met the result is silence with zero confidence.
func (c *Classifier) Classify(f Formants, volume float64) (string, float64) {
	if volume < c.silenceThreshold {
		return Silence, 1.0
	}

	best, bestScore := Silence, -1.0
	for _, cfg := range sortedConfigs {
		if volume < cfg.VolumeThreshold {
			continue
		}
		s := (matchScore(f.F1, cfg.F1) + matchScore(f.F2, cfg.F2)) / 2
		if s > bestScore {
			best, bestScore = cfg.Name, s
		}
	}
	if bestScore < 0 {
		return Silence, 0
	}
	return best, bestScore
}

// matchScore is 1 at the centre of r, falling linearly to 0.5 at its
// edges, then to 0 one half-width beyond an edge.
func matchScore(v float64, r Range) float64 {
	hw := r.HalfWidth()
	if hw <= 0 {
		return 0
	}
	d := math.Abs(v - r.Center())
	if d <= hw {
		return 1 - d/(2*hw)
	}
	return math.Max(0, 0.5*(1-(d-hw)/hw))
}
