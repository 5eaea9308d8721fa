// Package emotion classifies response text into one of a closed set of
// emotions with an intensity and a confidence.
package emotion

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"
)

// Emotion is one of the five supported emotions.
type Emotion string

const (
	Neutral   Emotion = "neutral"
	Happy     Emotion = "happy"
	Sad       Emotion = "sad"
	Angry     Emotion = "angry"
	Surprised Emotion = "surprised"
)

// All lists every emotion, neutral first.
func All() []Emotion {
	return []Emotion{Neutral, Happy, Sad, Angry, Surprised}
}

// Valid reports whether e is a known emotion.
func (e Emotion) Valid() bool {
	switch e {
	case Neutral, Happy, Sad, Angry, Surprised:
		return true
	}
	return false
}

// Result is the outcome of analysing one text.
type Result struct {
	Emotion    Emotion  `json:"emotion"`
	Intensity  float64  `json:"intensity"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords"`
}

type lexicon struct {
	primary   []string
	secondary []string
	base      float64
}

// scored is iterated in this order; ties keep the earlier emotion.
var scored = []Emotion{Happy, Sad, Angry, Surprised}

var lexicons = map[Emotion]lexicon{
	Happy: {
		primary:   []string{"happy", "glad", "great", "wonderful", "love", "excited", "joy", "awesome", "delighted", "fantastic"},
		secondary: []string{"good", "nice", "thanks", "thank you", "fun", "smile", "haha", "enjoy", "cool", "pleased"},
		base:      0.7,
	},
	Sad: {
		primary:   []string{"sad", "sorry", "unfortunately", "miss", "lonely", "cry", "depressed", "heartbroken", "grief"},
		secondary: []string{"down", "tired", "lost", "alone", "regret", "disappointed", "hurt"},
		base:      0.6,
	},
	Angry: {
		primary:   []string{"angry", "furious", "hate", "annoyed", "mad", "outraged", "rage"},
		secondary: []string{"frustrating", "unfair", "terrible", "awful", "stupid", "ridiculous", "irritating"},
		base:      0.8,
	},
	Surprised: {
		primary:   []string{"wow", "amazing", "incredible", "surprised", "unbelievable", "shocked", "astonishing"},
		secondary: []string{"really", "suddenly", "unexpected", "whoa", "omg", "no way"},
		base:      0.75,
	},
}

const (
	primaryWeight   = 2
	secondaryWeight = 1

	neutralIntensity  = 0.3
	neutralConfidence = 0.8

	minIntensity = 0.1
	maxIntensity = 1.0

	minConfidence = 0.3
	maxConfidence = 0.9

	maxEmphasis = 1.5

	// Context smoothing.
	intensityJump      = 0.4
	intensityDamping   = 0.8
	confidenceDamping  = 0.9
	dampingLengthStart = 50
	dampingLengthSpan  = 500
	minLengthDamping   = 0.6
)

// Analyzer scores text against keyword lexicons and smooths consecutive
// results. It is safe for concurrent use.
type Analyzer struct {
	mu     sync.Mutex
	last   *Result
	logger zerolog.Logger
}

// NewAnalyzer creates an analyzer with no history.
func NewAnalyzer(logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		logger: logger.With().Str("component", "emotion").Logger(),
	}
}

// Analyze classifies text and records the result as the latest one.
func (a *Analyzer) Analyze(text string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := score(text)
	if a.last != nil && sharpChange(*a.last, res) {
		res.Intensity = clampF(res.Intensity*intensityDamping, minIntensity, maxIntensity)
		res.Confidence *= confidenceDamping
	}

	a.logger.Debug().
		Str("emotion", string(res.Emotion)).
		Float64("intensity", res.Intensity).
		Float64("confidence", res.Confidence).
		Strs("keywords", res.Keywords).
		Msg("Analyzed response text")

	stored := res
	a.last = &stored
	return res
}

// Last returns the most recent result, if any.
func (a *Analyzer) Last() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Result{}, false
	}
	return *a.last, true
}

// Reset forgets the previous result.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = nil
}

func sharpChange(prev, cur Result) bool {
	return prev.Emotion != cur.Emotion || math.Abs(prev.Intensity-cur.Intensity) > intensityJump
}

// score computes the context-free result for text.
func score(text string) Result {
	norm := Normalize(text)

	scores := make(map[Emotion]int, len(scored))
	var keywords []string
	for _, e := range scored {
		lex := lexicons[e]
		for _, kw := range lex.primary {
			if strings.Contains(norm, kw) {
				scores[e] += primaryWeight
				keywords = append(keywords, kw)
			}
		}
		for _, kw := range lex.secondary {
			if strings.Contains(norm, kw) {
				scores[e] += secondaryWeight
				keywords = append(keywords, kw)
			}
		}
	}

	best, runnerUp := Neutral, 0
	bestScore := 0
	for _, e := range scored {
		s := scores[e]
		if s > bestScore {
			runnerUp = bestScore
			best, bestScore = e, s
		} else if s > runnerUp {
			runnerUp = s
		}
	}

	if bestScore == 0 {
		return Result{
			Emotion:    Neutral,
			Intensity:  neutralIntensity,
			Confidence: neutralConfidence,
			Keywords:   []string{},
		}
	}

	sort.Strings(keywords)
	intensity := lexicons[best].base *
		math.Min(float64(bestScore)/3, 1) *
		lengthDamping(norm) *
		emphasis(text)

	return Result{
		Emotion:    best,
		Intensity:  clampF(intensity, minIntensity, maxIntensity),
		Confidence: clampF(0.5+0.1*float64(bestScore-runnerUp), minConfidence, maxConfidence),
		Keywords:   keywords,
	}
}

// Normalize lowercases text, replaces punctuation with spaces and collapses
// whitespace.
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			return ' '
		case unicode.IsSpace(r):
			return ' '
		default:
			return unicode.ToLower(r)
		}
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}

func lengthDamping(norm string) float64 {
	n := len([]rune(norm))
	if n <= dampingLengthStart {
		return 1
	}
	return math.Max(minLengthDamping, 1-float64(n-dampingLengthStart)/dampingLengthSpan)
}

// emphasis grows with exclamation and question marks and with runs of three
// or more repeated letters ("sooo").
func emphasis(text string) float64 {
	m := 1.0
	m += 0.1 * float64(strings.Count(text, "!"))
	m += 0.05 * float64(strings.Count(text, "?"))

	var prev rune
	run := 0
	for _, r := range strings.ToLower(text) {
		if r == prev && unicode.IsLetter(r) {
			run++
			if run == 3 {
				m += 0.1
			}
		} else {
			prev, run = r, 1
		}
	}
	return math.Min(m, maxEmphasis)
}

func clampF(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
