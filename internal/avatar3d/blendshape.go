package avatar3d

// Canonical facial channel names. Catalog and lip-sync data are authored
// against these ARKit-style names and the VRM vowel presets; rigs that use
// other conventions are reached through the alias table.
const (
	BrowDownLeft     = "browDownLeft"
	BrowDownRight    = "browDownRight"
	BrowInnerUp      = "browInnerUp"
	BrowOuterUpLeft  = "browOuterUpLeft"
	BrowOuterUpRight = "browOuterUpRight"
	CheekPuff        = "cheekPuff"
	CheekSquintLeft  = "cheekSquintLeft"
	CheekSquintRight = "cheekSquintRight"
	EyeBlinkLeft     = "eyeBlinkLeft"
	EyeBlinkRight    = "eyeBlinkRight"
	EyeSquintLeft    = "eyeSquintLeft"
	EyeSquintRight   = "eyeSquintRight"
	EyeWideLeft      = "eyeWideLeft"
	EyeWideRight     = "eyeWideRight"
	JawForward       = "jawForward"
	JawOpen          = "jawOpen"
	MouthClose       = "mouthClose"
	MouthFrownLeft   = "mouthFrownLeft"
	MouthFrownRight  = "mouthFrownRight"
	MouthFunnel      = "mouthFunnel"
	MouthLowerDownL  = "mouthLowerDownLeft"
	MouthLowerDownR  = "mouthLowerDownRight"
	MouthPressLeft   = "mouthPressLeft"
	MouthPressRight  = "mouthPressRight"
	MouthPucker      = "mouthPucker"
	MouthRollLower   = "mouthRollLower"
	MouthShrugUpper  = "mouthShrugUpper"
	MouthSmileLeft   = "mouthSmileLeft"
	MouthSmileRight  = "mouthSmileRight"
	MouthStretchL    = "mouthStretchLeft"
	MouthStretchR    = "mouthStretchRight"
	MouthUpperUpL    = "mouthUpperUpLeft"
	MouthUpperUpR    = "mouthUpperUpRight"
	NoseSneerLeft    = "noseSneerLeft"
	NoseSneerRight   = "noseSneerRight"
	TongueOut        = "tongueOut"

	VowelA = "A"
	VowelI = "I"
	VowelU = "U"
	VowelE = "E"
	VowelO = "O"
)

// Canonical humanoid bone names (VRM humanoid convention).
const (
	BoneHips          = "hips"
	BoneSpine         = "spine"
	BoneChest         = "chest"
	BoneNeck          = "neck"
	BoneHead          = "head"
	BoneLeftShoulder  = "leftShoulder"
	BoneRightShoulder = "rightShoulder"
	BoneLeftUpperArm  = "leftUpperArm"
	BoneRightUpperArm = "rightUpperArm"
)

// WeightMap maps rig expression names to weights.
type WeightMap map[string]float32

// Set stores w clamped to [0,1].
func (m WeightMap) Set(name string, w float32) {
	m[name] = Clamp(w, 0, 1)
}

// Max stores the larger of the current and the clamped new weight.
func (m WeightMap) Max(name string, w float32) {
	w = Clamp(w, 0, 1)
	if cur, ok := m[name]; !ok || w > cur {
		m[name] = w
	}
}

// Clamp limits v to [lo,hi].
func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
