// Package anim models keyframed avatar animations and evaluates them over time.
package anim

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidSequence is returned by Validate for malformed sequences.
var ErrInvalidSequence = errors.New("invalid animation sequence")

// BoneTransform is a partial bone transform. Nil components are not driven.
// Rotation is XYZ Euler angles in radians.
type BoneTransform struct {
	Position *mgl32.Vec3
	Rotation *mgl32.Vec3
	Scale    *mgl32.Vec3
}

// V3 returns a pointer to a new vector, for authoring partial transforms.
func V3(x, y, z float32) *mgl32.Vec3 {
	v := mgl32.Vec3{x, y, z}
	return &v
}

// IsZero reports whether no component is set.
func (t BoneTransform) IsZero() bool {
	return t.Position == nil && t.Rotation == nil && t.Scale == nil
}

// Clone returns a copy that shares no vectors with t.
func (t BoneTransform) Clone() BoneTransform {
	return BoneTransform{
		Position: cloneVec(t.Position),
		Rotation: cloneVec(t.Rotation),
		Scale:    cloneVec(t.Scale),
	}
}

func cloneVec(v *mgl32.Vec3) *mgl32.Vec3 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// KeyFrame is an authored pose at a time offset within a sequence.
type KeyFrame struct {
	Time        time.Duration
	BlendShapes map[string]float32
	Bones       map[string]BoneTransform
}

// Clone returns a deep copy of the keyframe.
func (k KeyFrame) Clone() KeyFrame {
	out := KeyFrame{Time: k.Time}
	if k.BlendShapes != nil {
		out.BlendShapes = make(map[string]float32, len(k.BlendShapes))
		for name, w := range k.BlendShapes {
			out.BlendShapes[name] = w
		}
	}
	if k.Bones != nil {
		out.Bones = make(map[string]BoneTransform, len(k.Bones))
		for name, bt := range k.Bones {
			out.Bones[name] = bt.Clone()
		}
	}
	return out
}

// Sequence is a named, timed list of keyframes.
type Sequence struct {
	Name      string
	Duration  time.Duration
	Loop      bool
	Easing    Easing
	KeyFrames []KeyFrame
}

// Clone returns a deep copy of the sequence.
func (s Sequence) Clone() Sequence {
	out := s
	out.KeyFrames = make([]KeyFrame, len(s.KeyFrames))
	for i, kf := range s.KeyFrames {
		out.KeyFrames[i] = kf.Clone()
	}
	return out
}

// Channels returns the sorted union of blend-shape and bone names the
// sequence drives in any keyframe.
func (s Sequence) Channels() (blendShapes, bones []string) {
	bs := make(map[string]struct{})
	bn := make(map[string]struct{})
	for _, kf := range s.KeyFrames {
		for name := range kf.BlendShapes {
			bs[name] = struct{}{}
		}
		for name := range kf.Bones {
			bn[name] = struct{}{}
		}
	}
	return sortedKeys(bs), sortedKeys(bn)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks the sequence invariants: at least one keyframe, the first
// at time 0, non-decreasing times and a positive duration.
func Validate(s Sequence) error {
	if len(s.KeyFrames) == 0 {
		return fmt.Errorf("%w: %q has no keyframes", ErrInvalidSequence, s.Name)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: %q has non-positive duration %s", ErrInvalidSequence, s.Name, s.Duration)
	}
	if s.KeyFrames[0].Time != 0 {
		return fmt.Errorf("%w: %q first keyframe at %s", ErrInvalidSequence, s.Name, s.KeyFrames[0].Time)
	}
	for i := 1; i < len(s.KeyFrames); i++ {
		if s.KeyFrames[i].Time < s.KeyFrames[i-1].Time {
			return fmt.Errorf("%w: %q keyframe %d goes back in time", ErrInvalidSequence, s.Name, i)
		}
	}
	return nil
}

// Scale returns a copy of s with its intensity scaled by k. Blend-shape
// weights, bone positions and rotations are multiplied by k; bone scales
// move from identity toward their authored value by k. Weights are left
// unclamped here and clamped on evaluation.
func Scale(s Sequence, k float32) Sequence {
	out := s.Clone()
	if k == 1 {
		return out
	}
	for i := range out.KeyFrames {
		kf := &out.KeyFrames[i]
		for name, w := range kf.BlendShapes {
			kf.BlendShapes[name] = w * k
		}
		for name, bt := range kf.Bones {
			if bt.Position != nil {
				p := bt.Position.Mul(k)
				bt.Position = &p
			}
			if bt.Rotation != nil {
				r := bt.Rotation.Mul(k)
				bt.Rotation = &r
			}
			if bt.Scale != nil {
				one := mgl32.Vec3{1, 1, 1}
				sc := one.Add(bt.Scale.Sub(one).Mul(k))
				bt.Scale = &sc
			}
			kf.Bones[name] = bt
		}
	}
	return out
}

// Pose is a partial set of blend-shape weights and bone transforms.
type Pose struct {
	BlendShapes map[string]float32
	Bones       map[string]BoneTransform
}

// NewPose returns an empty pose.
func NewPose() Pose {
	return Pose{
		BlendShapes: make(map[string]float32),
		Bones:       make(map[string]BoneTransform),
	}
}
