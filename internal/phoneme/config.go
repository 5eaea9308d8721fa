// Package phoneme maps formant measurements to mouth-shape categories and
// stabilises the resulting stream over time.
package phoneme

import (
	"sort"

	av "github.com/normanking/avatarmotion/internal/avatar3d"
)

// Silence is the label reported for quiet or unclassifiable input.
const Silence = "sil"

// Range is a closed frequency interval in Hz.
type Range struct {
	Min float64
	Max float64
}

// Center returns the midpoint of the range.
func (r Range) Center() float64 { return (r.Min + r.Max) / 2 }

// HalfWidth returns half the range width.
func (r Range) HalfWidth() float64 { return (r.Max - r.Min) / 2 }

// Config describes one phoneme category.
type Config struct {
	Name            string
	F1              Range
	F2              Range
	VolumeThreshold float64
	BlendShapes     map[string]float32
}

// configs is the read-only phoneme catalog. Vowels use the VRM vowel
// presets; consonants drive ARKit mouth channels.
var configs = []Config{
	{Name: Silence, BlendShapes: map[string]float32{}},
	{Name: "A", F1: Range{700, 1100}, F2: Range{1100, 1500}, VolumeThreshold: 0.05,
		BlendShapes: map[string]float32{av.VowelA: 0.9, av.JawOpen: 0.5}},
	{Name: "I", F1: Range{250, 400}, F2: Range{2000, 2800}, VolumeThreshold: 0.04,
		BlendShapes: map[string]float32{av.VowelI: 0.8, av.MouthStretchL: 0.2, av.MouthStretchR: 0.2}},
	{Name: "U", F1: Range{250, 400}, F2: Range{700, 1100}, VolumeThreshold: 0.04,
		BlendShapes: map[string]float32{av.VowelU: 0.8, av.MouthPucker: 0.5}},
	{Name: "E", F1: Range{400, 650}, F2: Range{1800, 2300}, VolumeThreshold: 0.04,
		BlendShapes: map[string]float32{av.VowelE: 0.8, av.JawOpen: 0.25}},
	{Name: "O", F1: Range{450, 650}, F2: Range{800, 1100}, VolumeThreshold: 0.05,
		BlendShapes: map[string]float32{av.VowelO: 0.85, av.MouthFunnel: 0.4}},
	{Name: "PP", F1: Range{200, 350}, F2: Range{800, 1200}, VolumeThreshold: 0.03,
		BlendShapes: map[string]float32{av.MouthClose: 0.8, av.MouthPressLeft: 0.3, av.MouthPressRight: 0.3}},
	{Name: "FF", F1: Range{300, 500}, F2: Range{1400, 1900}, VolumeThreshold: 0.02,
		BlendShapes: map[string]float32{av.MouthFunnel: 0.3, av.MouthLowerDownL: 0.2, av.MouthLowerDownR: 0.2, av.MouthRollLower: 0.4}},
	{Name: "TH", F1: Range{350, 550}, F2: Range{1300, 1700}, VolumeThreshold: 0.02,
		BlendShapes: map[string]float32{av.TongueOut: 0.4, av.JawOpen: 0.15}},
	{Name: "DD", F1: Range{300, 500}, F2: Range{1600, 2000}, VolumeThreshold: 0.03,
		BlendShapes: map[string]float32{av.JawOpen: 0.2, av.MouthUpperUpL: 0.2, av.MouthUpperUpR: 0.2}},
	{Name: "KK", F1: Range{350, 600}, F2: Range{1900, 2500}, VolumeThreshold: 0.03,
		BlendShapes: map[string]float32{av.JawOpen: 0.25, av.MouthStretchL: 0.2, av.MouthStretchR: 0.2}},
	{Name: "CH", F1: Range{300, 500}, F2: Range{2000, 2600}, VolumeThreshold: 0.02,
		BlendShapes: map[string]float32{av.MouthFunnel: 0.4, av.MouthPucker: 0.3}},
	{Name: "SS", F1: Range{250, 450}, F2: Range{2400, 3200}, VolumeThreshold: 0.02,
		BlendShapes: map[string]float32{av.MouthStretchL: 0.3, av.MouthStretchR: 0.3, av.JawOpen: 0.05}},
	{Name: "NN", F1: Range{250, 400}, F2: Range{1200, 1800}, VolumeThreshold: 0.03,
		BlendShapes: map[string]float32{av.JawOpen: 0.15, av.MouthClose: 0.3}},
	{Name: "RR", F1: Range{300, 500}, F2: Range{1100, 1500}, VolumeThreshold: 0.03,
		BlendShapes: map[string]float32{av.MouthPucker: 0.4, av.MouthFunnel: 0.2}},
}

var byName = func() map[string]Config {
	m := make(map[string]Config, len(configs))
	for _, c := range configs {
		m[c.Name] = c
	}
	return m
}()

// sortedConfigs are the non-silence entries in name order, the iteration
// order that makes classification ties deterministic.
var sortedConfigs = func() []Config {
	out := make([]Config, 0, len(configs)-1)
	for _, c := range configs {
		if c.Name != Silence {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}()

// Lookup returns the catalog entry for name. The returned blend-shape map
// is a copy.
func Lookup(name string) (Config, bool) {
	c, ok := byName[name]
	if !ok {
		return Config{}, false
	}
	shapes := make(map[string]float32, len(c.BlendShapes))
	for k, v := range c.BlendShapes {
		shapes[k] = v
	}
	c.BlendShapes = shapes
	return c, true
}

// Names lists every phoneme label, silence first, the rest in name order.
func Names() []string {
	out := []string{Silence}
	for _, c := range sortedConfigs {
		out = append(out, c.Name)
	}
	return out
}
