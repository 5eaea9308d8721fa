package anim

import (
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Evaluate returns the pose of s at time t. The previous keyframe is the
// last one at or before t and the next is the first one at or after t. An
// exact hit, or a time outside the keyframe range, yields the bounding
// keyframe verbatim; anything else is an eased, component-wise lerp.
// Blend-shape weights in the result are clamped to [0,1].
func Evaluate(s Sequence, t time.Duration) Pose {
	kfs := s.KeyFrames
	if len(kfs) == 0 {
		return NewPose()
	}

	next := sort.Search(len(kfs), func(i int) bool { return kfs[i].Time >= t })
	prev := sort.Search(len(kfs), func(i int) bool { return kfs[i].Time > t }) - 1

	switch {
	case prev < 0:
		return keyFramePose(kfs[next])
	case next >= len(kfs):
		return keyFramePose(kfs[prev])
	case kfs[prev].Time == kfs[next].Time:
		// Exact hit. With duplicate times the last authored frame wins.
		return keyFramePose(kfs[prev])
	}

	a, b := kfs[prev], kfs[next]
	u := float32(float64(t-a.Time) / float64(b.Time-a.Time))
	u = s.Easing.Apply(u)

	pose := NewPose()
	for name, wa := range a.BlendShapes {
		if wb, ok := b.BlendShapes[name]; ok {
			pose.BlendShapes[name] = clamp01(wa + (wb-wa)*u)
		} else {
			pose.BlendShapes[name] = clamp01(wa * (1 - u))
		}
	}
	for name, wb := range b.BlendShapes {
		if _, ok := a.BlendShapes[name]; !ok {
			pose.BlendShapes[name] = clamp01(wb * u)
		}
	}

	for name, ta := range a.Bones {
		tb, ok := b.Bones[name]
		if !ok {
			tb = BoneTransform{}
		}
		if bt := lerpTransform(ta, tb, u); !bt.IsZero() {
			pose.Bones[name] = bt
		}
	}
	for name, tb := range b.Bones {
		if _, ok := a.Bones[name]; ok {
			continue
		}
		if bt := lerpTransform(BoneTransform{}, tb, u); !bt.IsZero() {
			pose.Bones[name] = bt
		}
	}
	return pose
}

func lerpTransform(a, b BoneTransform, u float32) BoneTransform {
	return BoneTransform{
		Position: lerpVec(a.Position, b.Position, mgl32.Vec3{}, u),
		Rotation: lerpVec(a.Rotation, b.Rotation, mgl32.Vec3{}, u),
		Scale:    lerpVec(a.Scale, b.Scale, mgl32.Vec3{1, 1, 1}, u),
	}
}

// lerpVec interpolates a component present at one or both ends. A missing
// end stands for the component's identity, zero for offsets and one for scale.
func lerpVec(a, b *mgl32.Vec3, identity mgl32.Vec3, u float32) *mgl32.Vec3 {
	if a == nil && b == nil {
		return nil
	}
	from, to := identity, identity
	if a != nil {
		from = *a
	}
	if b != nil {
		to = *b
	}
	out := from.Add(to.Sub(from).Mul(u))
	return &out
}

func keyFramePose(kf KeyFrame) Pose {
	pose := NewPose()
	for name, w := range kf.BlendShapes {
		pose.BlendShapes[name] = clamp01(w)
	}
	for name, bt := range kf.Bones {
		if !bt.IsZero() {
			pose.Bones[name] = bt.Clone()
		}
	}
	return pose
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
