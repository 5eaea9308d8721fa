// Package lipsync converts stabilised phonemes into smoothed mouth
// blend-shape weights on the bound rig.
package lipsync

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/phoneme"
)

// Config holds blender tuning.
type Config struct {
	Sensitivity    float64 `mapstructure:"sensitivity" json:"sensitivity"`
	Responsiveness float64 `mapstructure:"responsiveness" json:"responsiveness"`
	Epsilon        float64 `mapstructure:"epsilon" json:"epsilon"`
}

// DefaultConfig returns the default blender tuning.
func DefaultConfig() Config {
	return Config{
		Sensitivity:    1.0,
		Responsiveness: 0.35,
		Epsilon:        0.001,
	}
}

// Formant refinement limits.
const (
	openVowelF1  = 600.0
	openBoostMax = 0.3
	frontF2      = 2000.0
	backF2       = 1000.0
	toneBoostMax = 0.2
)

var (
	openVowels  = map[string]bool{av.VowelA: true, av.VowelO: true}
	frontVowels = map[string]bool{av.VowelI: true, av.VowelE: true}
	backVowels  = map[string]bool{av.VowelU: true, av.VowelO: true}
)

// Blender keeps a per-channel weight that approaches the current phoneme's
// target each step. It is driven from the render tick and is not safe for
// concurrent use.
type Blender struct {
	config   Config
	logger   zerolog.Logger
	resolver *av.Resolver

	phoneme string
	target  map[string]float32 // rig channel -> target weight
	current map[string]float32 // rig channel -> smoothed weight
	missing map[string]bool
}

// NewBlender creates a blender with no rig bound. Until Bind is called
// channel names pass through unresolved.
func NewBlender(config Config, logger zerolog.Logger) *Blender {
	return &Blender{
		config:  config,
		logger:  logger.With().Str("component", "lipsync").Logger(),
		phoneme: phoneme.Silence,
		target:  make(map[string]float32),
		current: make(map[string]float32),
		missing: make(map[string]bool),
	}
}

// Bind switches to a new rig's resolver and drops all channel state.
func (b *Blender) Bind(resolver *av.Resolver) {
	b.resolver = resolver
	b.phoneme = phoneme.Silence
	b.target = make(map[string]float32)
	b.current = make(map[string]float32)
	b.missing = make(map[string]bool)
}

// UpdateConfig replaces the tuning. Channel state is kept.
func (b *Blender) UpdateConfig(config Config) { b.config = config }

// Config returns the active tuning.
func (b *Blender) Config() Config { return b.config }

// Phoneme returns the phoneme currently targeted.
func (b *Blender) Phoneme() string { return b.phoneme }

// SetTarget computes new target weights for a stabilised phoneme.
func (b *Blender) SetTarget(name string, confidence float64, f phoneme.Formants) {
	b.phoneme = name
	for ch := range b.target {
		b.target[ch] = 0
	}

	cfg, ok := phoneme.Lookup(name)
	if !ok || name == phoneme.Silence {
		return
	}

	scale := b.config.Sensitivity * confidence
	for canonical, base := range cfg.BlendShapes {
		w := float64(base) * scale
		w += refinement(canonical, f)
		ch, ok := b.resolve(canonical)
		if !ok {
			continue
		}
		// Several canonical shapes may share one rig channel.
		if w32 := av.Clamp(float32(w), 0, 1); w32 > b.target[ch] {
			b.target[ch] = w32
		}
	}
}

// refinement is the formant-driven boost for a canonical channel.
func refinement(canonical string, f phoneme.Formants) float64 {
	var boost float64
	if openVowels[canonical] && f.F1 > openVowelF1 {
		boost += math.Min(openBoostMax, (f.F1-openVowelF1)/1000)
	}
	if frontVowels[canonical] && f.F2 > frontF2 {
		boost += math.Min(toneBoostMax, (f.F2-frontF2)/2000)
	}
	if backVowels[canonical] && f.F2 > 0 && f.F2 < backF2 {
		boost += math.Min(toneBoostMax, (backF2-f.F2)/1000)
	}
	return boost
}

func (b *Blender) resolve(canonical string) (string, bool) {
	if b.resolver == nil {
		return canonical, true
	}
	ch, ok := b.resolver.BlendShape(canonical)
	if !ok && !b.missing[canonical] {
		b.missing[canonical] = true
		b.logger.Warn().Str("blend_shape", canonical).Msg("Rig has no channel for lip-sync shape, skipping")
	}
	return ch, ok
}

// Apply advances every channel one smoothing step toward its target and
// writes the result. A channel that settles at zero is written once more
// as exactly 0 and then forgotten.
func (b *Blender) Apply(target av.PoseTarget) {
	if target == nil {
		return
	}
	resp := float32(b.config.Responsiveness)
	eps := float32(b.config.Epsilon)

	for ch, goal := range b.target {
		cur := b.current[ch]
		cur += (goal - cur) * resp
		if abs32(goal-cur) < eps {
			cur = goal
		}
		if cur == 0 && goal == 0 {
			target.SetBlendShapeWeight(ch, 0)
			delete(b.current, ch)
			delete(b.target, ch)
			continue
		}
		b.current[ch] = cur
		target.SetBlendShapeWeight(ch, av.Clamp(cur, 0, 1))
	}
}

// Reset zeroes every channel the blender has touched.
func (b *Blender) Reset(target av.PoseTarget) {
	if target != nil {
		for _, ch := range b.Channels() {
			target.SetBlendShapeWeight(ch, 0)
		}
	}
	b.phoneme = phoneme.Silence
	b.target = make(map[string]float32)
	b.current = make(map[string]float32)
}

// Channels lists the rig channels currently held, sorted.
func (b *Blender) Channels() []string {
	set := make(map[string]struct{}, len(b.target)+len(b.current))
	for ch := range b.target {
		set[ch] = struct{}{}
	}
	for ch := range b.current {
		set[ch] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Weight returns the smoothed weight of a rig channel.
func (b *Blender) Weight(ch string) float32 { return b.current[ch] }

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
