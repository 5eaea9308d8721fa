package phoneme

import "time"

const (
	// DefaultWindow bounds the retained classifications.
	DefaultWindow = 10
	// DefaultMaxAge drops classifications older than this.
	DefaultMaxAge = 500 * time.Millisecond
	// DefaultVoters is how many recent samples vote on the stable phoneme.
	DefaultVoters = 5
)

// Smoother buffers recent classifications and reports a stable phoneme by
// majority vote. It is not safe for concurrent use.
type Smoother struct {
	window int
	maxAge time.Duration
	voters int

	samples []Result
}

// NewSmoother creates a smoother with the default window.
func NewSmoother() *Smoother {
	return &Smoother{
		window:  DefaultWindow,
		maxAge:  DefaultMaxAge,
		voters:  DefaultVoters,
		samples: make([]Result, 0, DefaultWindow),
	}
}

// Add records a classification and returns the stable phoneme: the
// majority over the most recent voters, ties going to whichever tied
// phoneme was seen most recently.
func (s *Smoother) Add(r Result) string {
	s.samples = append(s.samples, r)
	if len(s.samples) > s.window {
		s.samples = s.samples[len(s.samples)-s.window:]
	}

	cutoff := r.Timestamp - s.maxAge
	keep := 0
	for _, sample := range s.samples {
		if sample.Timestamp >= cutoff {
			s.samples[keep] = sample
			keep++
		}
	}
	s.samples = s.samples[:keep]

	return s.Stable()
}

// Stable returns the current majority phoneme, or silence when empty.
func (s *Smoother) Stable() string {
	if len(s.samples) == 0 {
		return Silence
	}
	start := len(s.samples) - s.voters
	if start < 0 {
		start = 0
	}
	recent := s.samples[start:]

	counts := make(map[string]int, len(recent))
	lastSeen := make(map[string]int, len(recent))
	for i, sample := range recent {
		counts[sample.Phoneme]++
		lastSeen[sample.Phoneme] = i
	}

	best := ""
	for name, n := range counts {
		switch {
		case best == "":
			best = name
		case n > counts[best]:
			best = name
		case n == counts[best] && lastSeen[name] > lastSeen[best]:
			best = name
		}
	}
	return best
}

// Len returns the number of retained samples.
func (s *Smoother) Len() int { return len(s.samples) }

// Reset drops all samples.
func (s *Smoother) Reset() { s.samples = s.samples[:0] }

// Confidence returns the mean confidence of the voting samples labelled
// name, or 0 when none are.
func (s *Smoother) Confidence(name string) float64 {
	start := len(s.samples) - s.voters
	if start < 0 {
		start = 0
	}
	var sum float64
	var n int
	for _, sample := range s.samples[start:] {
		if sample.Phoneme == name {
			sum += sample.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
