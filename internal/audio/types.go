// Package audio turns raw capture buffers into the physical measurements the
// lip-sync chain consumes: spectral peaks, volume and voice activity.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Common errors
var (
	ErrInvalidFormat = errors.New("invalid audio format")
	ErrBufferFull    = errors.New("audio buffer full")
)

// Chunk is a block of mono samples normalised to [-1,1].
type Chunk struct {
	Samples   []float32     `json:"-"`
	Timestamp time.Duration `json:"timestamp"` // capture time since the host epoch
}

// Measurement is one analysis tick's output. Missing peaks are zero.
type Measurement struct {
	F1        float64       `json:"f1"`
	F2        float64       `json:"f2"`
	F3        float64       `json:"f3"`
	Volume    float64       `json:"volume"`
	Timestamp time.Duration `json:"timestamp"`
}

// Decode converts little-endian PCM into normalised float samples.
// bitDepth 16 is signed PCM, 32 is IEEE float, 8 is unsigned PCM.
func Decode(data []byte, bitDepth int) ([]float32, error) {
	switch bitDepth {
	case 16:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("%w: odd length %d for 16-bit PCM", ErrInvalidFormat, len(data))
		}
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768.0
		}
		return out, nil
	case 32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("%w: length %d not a multiple of 4 for float PCM", ErrInvalidFormat, len(data))
		}
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return out, nil
	case 8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128.0) / 128.0
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, bitDepth)
	}
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
