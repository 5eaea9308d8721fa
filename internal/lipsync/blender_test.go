package lipsync

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/phoneme"
)

func newBlender(t *testing.T, cfg Config, shapes ...string) (*Blender, *av.Avatar) {
	t.Helper()
	avatar := av.NewAvatar(shapes, nil)
	b := NewBlender(cfg, zerolog.Nop())
	b.Bind(av.NewResolver(avatar))
	return b, avatar
}

func instant() Config {
	return Config{Sensitivity: 1, Responsiveness: 1, Epsilon: 0.001}
}

func neutralFormants() phoneme.Formants {
	return phoneme.Formants{F1: 500, F2: 1500}
}

func TestBlender_AliasSubstitution(t *testing.T) {
	b, avatar := newBlender(t, instant(), "aa", av.JawOpen)

	b.SetTarget("A", 1, neutralFormants())
	b.Apply(avatar)

	weights := avatar.Weights()
	assert.InDelta(t, 0.9, weights["aa"], 1e-6)
	assert.InDelta(t, 0.5, weights[av.JawOpen], 1e-6)
	_, touched := weights["A"]
	assert.False(t, touched)
}

func TestBlender_MissingChannelDropped(t *testing.T) {
	b, avatar := newBlender(t, instant(), "aa")

	b.SetTarget("A", 1, neutralFormants())
	b.Apply(avatar)

	assert.Equal(t, []string{"aa"}, b.Channels())
	assert.True(t, b.missing[av.JawOpen])
	assert.Equal(t, 1, avatar.Writes())
}

func TestBlender_Scaling(t *testing.T) {
	cfg := instant()
	cfg.Sensitivity = 0.5
	b, avatar := newBlender(t, cfg, "A")

	b.SetTarget("A", 0.8, neutralFormants())
	b.Apply(avatar)
	assert.InDelta(t, 0.36, avatar.Weight("A"), 1e-6)
}

func TestBlender_FormantRefinement(t *testing.T) {
	tests := []struct {
		name     string
		phoneme  string
		channel  string
		formants phoneme.Formants
		want     float32
	}{
		{"open vowel boost", "A", av.VowelA, phoneme.Formants{F1: 800, F2: 1300}, 0.45 + 0.2},
		{"open vowel boost capped", "A", av.VowelA, phoneme.Formants{F1: 1500, F2: 1300}, 0.45 + 0.3},
		{"front vowel boost", "I", av.VowelI, phoneme.Formants{F1: 300, F2: 2400}, 0.4 + 0.2},
		{"front vowel small boost", "E", av.VowelE, phoneme.Formants{F1: 500, F2: 2100}, 0.4 + 0.05},
		{"back vowel boost", "O", av.VowelO, phoneme.Formants{F1: 550, F2: 900}, 0.425 + 0.1},
		{"no boost for consonant shapes", "PP", av.MouthClose, phoneme.Formants{F1: 900, F2: 500}, 0.4},
		{"open boost cap at high f1", "A", av.VowelA, phoneme.Formants{F1: 1100, F2: 1300}, 0.45 + 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, avatar := newBlender(t, instant(), tt.channel)
			b.SetTarget(tt.phoneme, 0.5, tt.formants)
			b.Apply(avatar)
			assert.InDelta(t, tt.want, avatar.Weight(tt.channel), 1e-5)
		})
	}

	t.Run("full confidence saturates", func(t *testing.T) {
		b, avatar := newBlender(t, instant(), "A")
		b.SetTarget("A", 1, phoneme.Formants{F1: 1000, F2: 1300})
		b.Apply(avatar)
		assert.Equal(t, float32(1), avatar.Weight("A"))
	})
}

func TestBlender_SmoothingAndSnap(t *testing.T) {
	cfg := Config{Sensitivity: 1, Responsiveness: 0.5, Epsilon: 0.001}
	b, avatar := newBlender(t, cfg, "A", av.JawOpen)

	b.SetTarget("A", 1, neutralFormants())
	b.Apply(avatar)
	assert.InDelta(t, 0.45, avatar.Weight("A"), 1e-6)
	b.Apply(avatar)
	assert.InDelta(t, 0.675, avatar.Weight("A"), 1e-6)

	b.SetTarget(phoneme.Silence, 1, phoneme.Formants{})
	assert.Equal(t, phoneme.Silence, b.Phoneme())
	for i := 0; i < 30 && len(b.Channels()) > 0; i++ {
		b.Apply(avatar)
	}
	assert.Empty(t, b.Channels())
	assert.Equal(t, float32(0), avatar.Weight("A"))
	assert.Equal(t, float32(0), avatar.Weight(av.JawOpen))

	// Settled channels are no longer written.
	writes := avatar.Writes()
	b.Apply(avatar)
	assert.Equal(t, writes, avatar.Writes())
}

func TestBlender_ResetAndUnknown(t *testing.T) {
	b, avatar := newBlender(t, instant(), "A", av.JawOpen)

	b.SetTarget("A", 1, neutralFormants())
	b.Apply(avatar)
	b.Reset(avatar)
	assert.Zero(t, avatar.Weight("A"))
	assert.Zero(t, avatar.Weight(av.JawOpen))
	assert.Empty(t, b.Channels())

	b.SetTarget("nope", 1, neutralFormants())
	assert.Empty(t, b.Channels())
}

func TestBlender_UnboundPassesThrough(t *testing.T) {
	b := NewBlender(instant(), zerolog.Nop())
	avatar := av.NewAvatar(nil, nil)
	b.SetTarget("U", 1, neutralFormants())
	b.Apply(avatar)
	assert.InDelta(t, 0.8, avatar.Weight("U"), 1e-6)
	assert.InDelta(t, 0.5, avatar.Weight(av.MouthPucker), 1e-6)
}
