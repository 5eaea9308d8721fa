package phoneme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassifySilence(t *testing.T) {
	c := NewClassifier(0)
	p, conf := c.Classify(Formants{F1: 900, F2: 1300}, 0.01)
	assert.Equal(t, Silence, p)
	assert.Equal(t, 1.0, conf)
}

func TestClassifyRangeCentres(t *testing.T) {
	c := NewClassifier(0)
	for _, cfg := range sortedConfigs {
		t.Run(cfg.Name, func(t *testing.T) {
			p, conf := c.Classify(Formants{F1: cfg.F1.Center(), F2: cfg.F2.Center()}, 0.5)
			assert.Equal(t, cfg.Name, p)
			assert.InDelta(t, 1.0, conf, 1e-9)
		})
	}
}

func TestClassifyVolumeThresholdExcludesEntries(t *testing.T) {
	c := NewClassifier(0.01)
	// A needs 0.05, so a quiet centred A falls to the next best entry.
	a, _ := Lookup("A")
	p, conf := c.Classify(Formants{F1: a.F1.Center(), F2: a.F2.Center()}, 0.03)
	assert.NotEqual(t, "A", p)
	assert.Less(t, conf, 1.0)
}

func TestClassifyNothingEligible(t *testing.T) {
	c := NewClassifier(0.001)
	p, conf := c.Classify(Formants{F1: 900, F2: 1300}, 0.015)
	assert.Equal(t, Silence, p)
	assert.Zero(t, conf)
}

func TestMatchScore(t *testing.T) {
	r := Range{Min: 100, Max: 300}
	tests := []struct {
		name string
		v    float64
		want float64
	}{
		{"centre", 200, 1},
		{"edge", 300, 0.5},
		{"halfway inside", 150, 0.75},
		{"half beyond", 350, 0.25},
		{"one half-width beyond", 400, 0},
		{"far away", 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, matchScore(tt.v, r), 1e-9)
		})
	}
}

func TestCentresUnique(t *testing.T) {
	seen := map[[2]float64]string{}
	for _, cfg := range sortedConfigs {
		key := [2]float64{cfg.F1.Center(), cfg.F2.Center()}
		other, dup := seen[key]
		require.False(t, dup, "%s and %s share a centre", cfg.Name, other)
		seen[key] = cfg.Name
	}
}

func TestCentreWinsProperty(t *testing.T) {
	c := NewClassifier(0)
	rapid.Check(t, func(t *rapid.T) {
		cfg := rapid.SampledFrom(sortedConfigs).Draw(t, "phoneme")
		volume := rapid.Float64Range(cfg.VolumeThreshold, 1).Draw(t, "volume")
		f := Formants{F1: cfg.F1.Center(), F2: cfg.F2.Center()}

		got, conf := c.Classify(f, volume)
		if got != cfg.Name {
			t.Fatalf("centre of %s classified as %s", cfg.Name, got)
		}
		for _, other := range sortedConfigs {
			s := (matchScore(f.F1, other.F1) + matchScore(f.F2, other.F2)) / 2
			if s > conf {
				t.Fatalf("%s scored %f above winner %f", other.Name, s, conf)
			}
		}
	})
}

func TestLookupCopies(t *testing.T) {
	a, ok := Lookup("A")
	require.True(t, ok)
	a.BlendShapes["A"] = 0

	again, _ := Lookup("A")
	assert.InDelta(t, 0.9, again.BlendShapes["A"], 1e-6)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Equal(t, Silence, names[0])
	assert.Len(t, names, 15)
	assert.IsNonDecreasing(t, names[1:])
}

func stream(labels ...string) []Result {
	out := make([]Result, len(labels))
	for i, l := range labels {
		out[i] = Result{Phoneme: l, Confidence: 0.8, Timestamp: time.Duration(i) * 16 * time.Millisecond}
	}
	return out
}

func TestSmootherMajority(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"majority", []string{"A", "A", "I", "A", "U"}, "A"},
		{"tie goes to most recent", []string{"A", "I", "A", "I"}, "I"},
		{"only last five vote", []string{"O", "O", "O", "O", "E", "E", "E", "O", "E"}, "E"},
		{"single", []string{"U"}, "U"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSmoother()
			var got string
			for _, r := range stream(tt.labels...) {
				got = s.Add(r)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSmootherWindowAndAge(t *testing.T) {
	s := NewSmoother()
	for _, r := range stream("A", "A", "A", "A", "A", "A", "A", "A", "A", "A", "A", "A") {
		s.Add(r)
	}
	assert.Equal(t, DefaultWindow, s.Len())

	// A sample far in the future ages everything else out.
	got := s.Add(Result{Phoneme: "O", Timestamp: 2 * time.Second})
	assert.Equal(t, "O", got)
	assert.Equal(t, 1, s.Len())

	s.Reset()
	assert.Equal(t, Silence, s.Stable())
}

func TestSmootherConfidence(t *testing.T) {
	s := NewSmoother()
	s.Add(Result{Phoneme: "A", Confidence: 0.6, Timestamp: 0})
	s.Add(Result{Phoneme: "I", Confidence: 0.9, Timestamp: 10 * time.Millisecond})
	s.Add(Result{Phoneme: "A", Confidence: 0.8, Timestamp: 20 * time.Millisecond})

	assert.InDelta(t, 0.7, s.Confidence("A"), 1e-9)
	assert.InDelta(t, 0.9, s.Confidence("I"), 1e-9)
	assert.Zero(t, s.Confidence("O"))
}
