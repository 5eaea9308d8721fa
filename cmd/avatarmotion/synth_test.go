package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarmotion/internal/audio"
	"github.com/normanking/avatarmotion/internal/phoneme"
)

func TestVoiceAt(t *testing.T) {
	v := voiceAt(0)
	require.True(t, v.on)
	cfg, _ := phoneme.Lookup("A")
	assert.Equal(t, cfg.F1.Center(), v.f1)

	assert.False(t, voiceAt(vowelHold+time.Millisecond).on)

	v = voiceAt(vowelHold + gapHold)
	cfg, _ = phoneme.Lookup("I")
	assert.Equal(t, cfg.F2.Center(), v.f2)
}

func TestSynthChunk(t *testing.T) {
	silent := synthChunk(voice{}, 16000, 0, 160)
	assert.Len(t, silent, 160)
	assert.Zero(t, audio.RMS(silent))

	loud := synthChunk(voiceAt(0), 16000, 0, 160)
	assert.Greater(t, audio.RMS(loud), 0.1)
}
