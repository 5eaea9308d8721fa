// Package avatar3d describes the avatar rig the animation core drives: the
// pose target capability, rig inspection and name resolution.
package avatar3d

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/avatarmotion/internal/anim"
)

// ErrChannelUnavailable marks a blend shape or bone the bound rig lacks.
var ErrChannelUnavailable = errors.New("channel not present on rig")

// PoseTarget accepts named blend-shape weights and bone transforms. It is
// owned by the rendering layer.
type PoseTarget interface {
	SetBlendShapeWeight(name string, weight float32)
	SetBoneTransform(name string, t Transform)
	BoneTransform(name string) (Transform, bool)
}

// Rig is optionally implemented by a PoseTarget that can enumerate its
// channels. Targets that do not implement it are treated as accepting any
// name.
type Rig interface {
	BlendShapeNames() []string
	BoneNames() []string
}

// Transform is a full bone transform. Rotation is XYZ Euler radians.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Vec3
	Scale    mgl32.Vec3
}

// IdentityTransform is the rest transform assumed for unknown bones.
func IdentityTransform() Transform {
	return Transform{Scale: mgl32.Vec3{1, 1, 1}}
}

// Compose applies a partial offset on top of a rest transform: position
// and rotation are added, scale is multiplied.
func Compose(rest Transform, offset anim.BoneTransform) Transform {
	out := rest
	if offset.Position != nil {
		out.Position = rest.Position.Add(*offset.Position)
	}
	if offset.Rotation != nil {
		out.Rotation = rest.Rotation.Add(*offset.Rotation)
	}
	if offset.Scale != nil {
		s := *offset.Scale
		out.Scale = mgl32.Vec3{rest.Scale[0] * s[0], rest.Scale[1] * s[1], rest.Scale[2] * s[2]}
	}
	return out
}

// Avatar is an in-memory pose target. Hosts without a renderer use it
// directly; renderers can read its state once per frame.
type Avatar struct {
	mu sync.RWMutex

	blendShapes map[string]struct{}
	bones       map[string]struct{}

	weights    map[string]float32
	transforms map[string]Transform
	writes     int
}

// NewAvatar creates an avatar exposing the given channel names. Nil name
// lists leave that side open: any name is accepted.
func NewAvatar(blendShapes, bones []string) *Avatar {
	a := &Avatar{
		weights:    make(map[string]float32),
		transforms: make(map[string]Transform),
	}
	if blendShapes != nil {
		a.blendShapes = toSet(blendShapes)
	}
	if bones != nil {
		a.bones = toSet(bones)
	}
	return a
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// SetBlendShapeWeight implements PoseTarget. Unknown names are ignored.
func (a *Avatar) SetBlendShapeWeight(name string, weight float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blendShapes != nil {
		if _, ok := a.blendShapes[name]; !ok {
			return
		}
	}
	a.weights[name] = Clamp(weight, 0, 1)
	a.writes++
}

// SetBoneTransform implements PoseTarget. Unknown bones are ignored.
func (a *Avatar) SetBoneTransform(name string, t Transform) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bones != nil {
		if _, ok := a.bones[name]; !ok {
			return
		}
	}
	a.transforms[name] = t
	a.writes++
}

// BoneTransform implements PoseTarget. Known bones that were never written
// report the identity transform.
func (a *Avatar) BoneTransform(name string) (Transform, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if t, ok := a.transforms[name]; ok {
		return t, true
	}
	if a.bones == nil {
		return IdentityTransform(), true
	}
	if _, ok := a.bones[name]; ok {
		return IdentityTransform(), true
	}
	return Transform{}, false
}

// BlendShapeNames implements Rig.
func (a *Avatar) BlendShapeNames() []string {
	return sortedNames(a.blendShapes)
}

// BoneNames implements Rig.
func (a *Avatar) BoneNames() []string {
	return sortedNames(a.bones)
}

func sortedNames(set map[string]struct{}) []string {
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Weight returns the current weight of a blend shape.
func (a *Avatar) Weight(name string) float32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.weights[name]
}

// Weights returns a snapshot of all written weights.
func (a *Avatar) Weights() WeightMap {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(WeightMap, len(a.weights))
	for k, v := range a.weights {
		out[k] = v
	}
	return out
}

// Transforms returns a snapshot of all written bone transforms.
func (a *Avatar) Transforms() map[string]Transform {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]Transform, len(a.transforms))
	for k, v := range a.transforms {
		out[k] = v
	}
	return out
}

// Writes returns the number of accepted writes so far.
func (a *Avatar) Writes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.writes
}
