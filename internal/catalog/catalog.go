// Package catalog holds the predefined emotion, gesture and idle animation
// sequences. Entries are built once at init and handed out as copies.
package catalog

import (
	"sort"
	"time"

	"github.com/normanking/avatarmotion/internal/anim"
	av "github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/emotion"
)

// GestureType identifies a gesture sequence.
type GestureType string

const (
	GestureNod   GestureType = "nod"
	GestureShake GestureType = "shake"
	GestureTilt  GestureType = "tilt"
	GestureShrug GestureType = "shrug"
	GestureThink GestureType = "think"
)

const (
	expressionDuration = 3000 * time.Millisecond
	expressionAttack   = 400 * time.Millisecond
	expressionRelease  = 600 * time.Millisecond
)

var emotions = map[emotion.Emotion]anim.Sequence{
	emotion.Happy: expression("emotion.happy", map[string]float32{
		av.MouthSmileLeft:   0.7,
		av.MouthSmileRight:  0.7,
		av.CheekSquintLeft:  0.4,
		av.CheekSquintRight: 0.4,
		av.EyeSquintLeft:    0.25,
		av.EyeSquintRight:   0.25,
	}, nil),

	emotion.Sad: expression("emotion.sad", map[string]float32{
		av.BrowInnerUp:     0.6,
		av.BrowDownLeft:    0.1,
		av.BrowDownRight:   0.1,
		av.MouthFrownLeft:  0.45,
		av.MouthFrownRight: 0.45,
		av.EyeSquintLeft:   0.1,
		av.EyeSquintRight:  0.1,
	}, map[string]anim.BoneTransform{
		av.BoneHead: {Rotation: anim.V3(0.08, 0, 0)},
	}),

	emotion.Angry: expression("emotion.angry", map[string]float32{
		av.BrowDownLeft:    0.65,
		av.BrowDownRight:   0.65,
		av.NoseSneerLeft:   0.3,
		av.NoseSneerRight:  0.3,
		av.MouthPressLeft:  0.35,
		av.MouthPressRight: 0.35,
		av.EyeSquintLeft:   0.2,
		av.EyeSquintRight:  0.2,
		av.MouthFrownLeft:  0.2,
		av.MouthFrownRight: 0.2,
	}, map[string]anim.BoneTransform{
		av.BoneHead: {Rotation: anim.V3(-0.05, 0, 0)},
	}),

	emotion.Surprised: expression("emotion.surprised", map[string]float32{
		av.BrowInnerUp:      0.6,
		av.BrowOuterUpLeft:  0.5,
		av.BrowOuterUpRight: 0.5,
		av.EyeWideLeft:      0.6,
		av.EyeWideRight:     0.6,
		av.JawOpen:          0.3,
	}, map[string]anim.BoneTransform{
		av.BoneHead: {Rotation: anim.V3(-0.06, 0, 0)},
	}),
}

// expression builds an attack/hold/release sequence around a peak pose.
func expression(name string, peak map[string]float32, bones map[string]anim.BoneTransform) anim.Sequence {
	rest := make(map[string]float32, len(peak))
	for k := range peak {
		rest[k] = 0
	}
	peakFrame := func(at time.Duration) anim.KeyFrame {
		kf := anim.KeyFrame{Time: at, BlendShapes: peak, Bones: bones}
		return kf.Clone()
	}
	return anim.Sequence{
		Name:     name,
		Duration: expressionDuration,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			{Time: 0, BlendShapes: rest},
			peakFrame(expressionAttack),
			peakFrame(expressionDuration - expressionRelease),
			(anim.KeyFrame{Time: expressionDuration, BlendShapes: rest}).Clone(),
		},
	}
}

var gestures = map[GestureType]anim.Sequence{
	GestureNod: {
		Name:     "gesture.nod",
		Duration: 1200 * time.Millisecond,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			headFrame(0, 0, 0, 0),
			headFrame(300*time.Millisecond, 0.25, 0, 0),
			headFrame(550*time.Millisecond, -0.05, 0, 0),
			headFrame(850*time.Millisecond, 0.2, 0, 0),
			headFrame(1200*time.Millisecond, 0, 0, 0),
		},
	},
	GestureShake: {
		Name:     "gesture.shake",
		Duration: 1400 * time.Millisecond,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			headFrame(0, 0, 0, 0),
			headFrame(250*time.Millisecond, 0, 0.3, 0),
			headFrame(600*time.Millisecond, 0, -0.3, 0),
			headFrame(950*time.Millisecond, 0, 0.2, 0),
			headFrame(1400*time.Millisecond, 0, 0, 0),
		},
	},
	GestureTilt: {
		Name:     "gesture.tilt",
		Duration: 1600 * time.Millisecond,
		Easing:   anim.EaseOut,
		KeyFrames: []anim.KeyFrame{
			headFrame(0, 0, 0, 0),
			headFrame(400*time.Millisecond, 0, 0, 0.2),
			headFrame(1200*time.Millisecond, 0, 0, 0.2),
			headFrame(1600*time.Millisecond, 0, 0, 0),
		},
	},
	GestureShrug: {
		Name:     "gesture.shrug",
		Duration: 1500 * time.Millisecond,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			{Time: 0, BlendShapes: map[string]float32{av.BrowInnerUp: 0, av.MouthShrugUpper: 0}, Bones: shoulders(0)},
			{Time: 450 * time.Millisecond, BlendShapes: map[string]float32{av.BrowInnerUp: 0.35, av.MouthShrugUpper: 0.4}, Bones: shoulders(0.04)},
			{Time: 1000 * time.Millisecond, BlendShapes: map[string]float32{av.BrowInnerUp: 0.35, av.MouthShrugUpper: 0.4}, Bones: shoulders(0.04)},
			{Time: 1500 * time.Millisecond, BlendShapes: map[string]float32{av.BrowInnerUp: 0, av.MouthShrugUpper: 0}, Bones: shoulders(0)},
		},
	},
	GestureThink: {
		Name:     "gesture.think",
		Duration: 2500 * time.Millisecond,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			{Time: 0, BlendShapes: map[string]float32{av.BrowInnerUp: 0, av.MouthPressLeft: 0}, Bones: headBones(0, 0, 0)},
			{Time: 500 * time.Millisecond, BlendShapes: map[string]float32{av.BrowInnerUp: 0.3, av.MouthPressLeft: 0.25}, Bones: headBones(-0.1, -0.15, 0.08)},
			{Time: 2000 * time.Millisecond, BlendShapes: map[string]float32{av.BrowInnerUp: 0.3, av.MouthPressLeft: 0.25}, Bones: headBones(-0.1, -0.15, 0.08)},
			{Time: 2500 * time.Millisecond, BlendShapes: map[string]float32{av.BrowInnerUp: 0, av.MouthPressLeft: 0}, Bones: headBones(0, 0, 0)},
		},
	},
}

func headBones(x, y, z float32) map[string]anim.BoneTransform {
	return map[string]anim.BoneTransform{av.BoneHead: {Rotation: anim.V3(x, y, z)}}
}

func headFrame(at time.Duration, x, y, z float32) anim.KeyFrame {
	return anim.KeyFrame{Time: at, Bones: headBones(x, y, z)}
}

func shoulders(lift float32) map[string]anim.BoneTransform {
	return map[string]anim.BoneTransform{
		av.BoneLeftShoulder:  {Position: anim.V3(0, lift, 0)},
		av.BoneRightShoulder: {Position: anim.V3(0, lift, 0)},
		av.BoneHead:          {Rotation: anim.V3(0, 0, lift*2)},
	}
}

var (
	blink = anim.Sequence{
		Name:     "idle.blink",
		Duration: 150 * time.Millisecond,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			{Time: 0, BlendShapes: map[string]float32{av.EyeBlinkLeft: 0, av.EyeBlinkRight: 0}},
			{Time: 60 * time.Millisecond, BlendShapes: map[string]float32{av.EyeBlinkLeft: 1, av.EyeBlinkRight: 1}},
			{Time: 150 * time.Millisecond, BlendShapes: map[string]float32{av.EyeBlinkLeft: 0, av.EyeBlinkRight: 0}},
		},
	}

	breathing = anim.Sequence{
		Name:     "idle.breathing",
		Duration: 4000 * time.Millisecond,
		Loop:     true,
		Easing:   anim.EaseInOut,
		KeyFrames: []anim.KeyFrame{
			breathFrame(0, 0),
			breathFrame(2000*time.Millisecond, 1),
			breathFrame(4000*time.Millisecond, 0),
		},
	}
)

func breathFrame(at time.Duration, depth float32) anim.KeyFrame {
	return anim.KeyFrame{
		Time: at,
		BlendShapes: map[string]float32{
			av.JawOpen:        0.02 * depth,
			av.NoseSneerLeft:  0.01 * depth,
			av.NoseSneerRight: 0.01 * depth,
		},
		Bones: map[string]anim.BoneTransform{
			av.BoneChest: {Scale: anim.V3(1+0.015*depth, 1+0.015*depth, 1)},
			av.BoneSpine: {Rotation: anim.V3(-0.01*depth, 0, 0)},
		},
	}
}

// Emotion returns the facial sequence for e. Neutral has no sequence.
func Emotion(e emotion.Emotion) (anim.Sequence, bool) {
	seq, ok := emotions[e]
	if !ok {
		return anim.Sequence{}, false
	}
	return seq.Clone(), true
}

// Gesture returns the sequence for g.
func Gesture(g GestureType) (anim.Sequence, bool) {
	seq, ok := gestures[g]
	if !ok {
		return anim.Sequence{}, false
	}
	return seq.Clone(), true
}

// Blink returns the idle blink sequence.
func Blink() anim.Sequence { return blink.Clone() }

// Breathing returns the looping idle breathing sequence.
func Breathing() anim.Sequence { return breathing.Clone() }

// Gestures lists the available gesture types in name order.
func Gestures() []GestureType {
	out := make([]GestureType, 0, len(gestures))
	for g := range gestures {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
