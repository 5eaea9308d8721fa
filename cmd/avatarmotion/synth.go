package main

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/audio"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/phoneme"
)

const (
	chunkPeriod = 10 * time.Millisecond
	vowelHold   = 400 * time.Millisecond
	gapHold     = 250 * time.Millisecond
)

var synthVowels = []string{"A", "I", "U", "E", "O"}

// voice is a two-formant test signal centred on a phoneme's ranges.
type voice struct {
	f1, f2 float64
	on     bool
}

func voiceAt(elapsed time.Duration) voice {
	cycle := vowelHold + gapHold
	n := int(elapsed / cycle)
	if elapsed%cycle >= vowelHold {
		return voice{}
	}
	cfg, ok := phoneme.Lookup(synthVowels[n%len(synthVowels)])
	if !ok {
		return voice{}
	}
	return voice{f1: cfg.F1.Center(), f2: cfg.F2.Center(), on: true}
}

func synthChunk(v voice, sampleRate int, offset int, n int) []float32 {
	out := make([]float32, n)
	if !v.on {
		return out
	}
	for i := range out {
		t := float64(offset+i) / float64(sampleRate)
		out[i] = float32(0.3*math.Sin(2*math.Pi*v.f1*t) + 0.15*math.Sin(2*math.Pi*v.f2*t))
	}
	return out
}

// feedSynthetic pushes a repeating vowel sequence into the engine, one
// chunk per capture period. The gaps let the VAD close each utterance.
func feedSynthetic(ctx context.Context, eng *engine.Engine, sampleRate int, log zerolog.Logger) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	perChunk := int(int64(sampleRate) * int64(chunkPeriod) / int64(time.Second))
	ticker := time.NewTicker(chunkPeriod)
	defer ticker.Stop()

	start := time.Now()
	offset := 0
	dropped := 0
	for {
		select {
		case <-ctx.Done():
			if dropped > 0 {
				log.Warn().Int("dropped", dropped).Msg("Synthetic chunks dropped")
			}
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			chunk := audio.Chunk{
				Samples:   synthChunk(voiceAt(elapsed), sampleRate, offset, perChunk),
				Timestamp: elapsed,
			}
			offset += perChunk
			if err := eng.PushAudio(chunk); err != nil {
				if !errors.Is(err, audio.ErrBufferFull) {
					return err
				}
				dropped++
			}
		}
	}
}
