package avatar3d

import "sync"

// aliases maps a canonical channel name to rig-specific fallbacks in
// preference order. The table is also read in reverse, so a rig-specific
// name resolves to its canonical name when only that one exists.
var aliases = map[string][]string{
	// VRM 0.x vowel presets vs VRM 1.0 / VRoid names.
	VowelA: {"aa", "a", "Fcl_MTH_A", "vrc.v_aa"},
	VowelI: {"ih", "i", "Fcl_MTH_I", "vrc.v_ih"},
	VowelU: {"ou", "u", "Fcl_MTH_U", "vrc.v_ou"},
	VowelE: {"ee", "e", "Fcl_MTH_E", "vrc.v_e"},
	VowelO: {"oh", "o", "Fcl_MTH_O", "vrc.v_oh"},

	EyeBlinkLeft:    {"blinkLeft", "Blink_L", "eyeBlink_L", "Fcl_EYE_Close_L"},
	EyeBlinkRight:   {"blinkRight", "Blink_R", "eyeBlink_R", "Fcl_EYE_Close_R"},
	EyeWideLeft:     {"eyeWide_L", "Fcl_EYE_Surprised"},
	EyeWideRight:    {"eyeWide_R", "Fcl_EYE_Surprised"},
	EyeSquintLeft:   {"eyeSquint_L"},
	EyeSquintRight:  {"eyeSquint_R"},
	JawOpen:         {"jaw_open", "JawOpen", "mouthOpen"},
	MouthClose:      {"mouth_close", "Fcl_MTH_Close"},
	MouthFunnel:     {"mouth_funnel"},
	MouthPucker:     {"mouth_pucker"},
	MouthSmileLeft:  {"mouthSmile_L", "mouthSmile", "happy", "Fcl_MTH_Joy"},
	MouthSmileRight: {"mouthSmile_R", "mouthSmile", "happy", "Fcl_MTH_Joy"},
	MouthFrownLeft:  {"mouthFrown_L", "mouthFrown", "sad", "Fcl_MTH_Sorrow"},
	MouthFrownRight: {"mouthFrown_R", "mouthFrown", "sad", "Fcl_MTH_Sorrow"},
	BrowInnerUp:     {"browInnerUp_C", "Fcl_BRW_Sorrow"},
	BrowDownLeft:    {"browDown_L", "Fcl_BRW_Angry"},
	BrowDownRight:   {"browDown_R", "Fcl_BRW_Angry"},
	NoseSneerLeft:   {"noseSneer_L"},
	NoseSneerRight:  {"noseSneer_R"},

	BoneHips:          {"Hips", "J_Bip_C_Hips", "mixamorig:Hips"},
	BoneSpine:         {"Spine", "J_Bip_C_Spine", "mixamorig:Spine"},
	BoneChest:         {"Chest", "J_Bip_C_Chest", "mixamorig:Spine1", "upperChest"},
	BoneNeck:          {"Neck", "J_Bip_C_Neck", "mixamorig:Neck"},
	BoneHead:          {"Head", "J_Bip_C_Head", "mixamorig:Head"},
	BoneLeftShoulder:  {"LeftShoulder", "J_Bip_L_Shoulder", "mixamorig:LeftShoulder"},
	BoneRightShoulder: {"RightShoulder", "J_Bip_R_Shoulder", "mixamorig:RightShoulder"},
	BoneLeftUpperArm:  {"LeftUpperArm", "J_Bip_L_UpperArm", "mixamorig:LeftArm"},
	BoneRightUpperArm: {"RightUpperArm", "J_Bip_R_UpperArm", "mixamorig:RightArm"},
}

var reverseAliases = func() map[string][]string {
	rev := make(map[string][]string)
	for canonical, names := range aliases {
		for _, n := range names {
			rev[n] = append(rev[n], canonical)
		}
	}
	return rev
}()

// Aliases returns the fallback names for name in preference order: its own
// fallbacks when it is canonical, otherwise the canonical names it is an
// alias of followed by their other fallbacks.
func Aliases(name string) []string {
	if names, ok := aliases[name]; ok {
		return names
	}
	var out []string
	seen := map[string]bool{name: true}
	for _, canonical := range reverseAliases[name] {
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	for _, canonical := range reverseAliases[name] {
		for _, n := range aliases[canonical] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Resolver maps requested channel names to the names a bound rig actually
// has. Results, including misses, are cached per resolver; build a new one
// when a different rig is bound.
type Resolver struct {
	mu sync.Mutex

	blendShapes map[string]struct{}
	bones       map[string]struct{}

	blendCache map[string]string
	boneCache  map[string]string
}

// NewResolver builds a resolver for target. Targets that do not implement
// Rig, or report nil name lists, accept every name verbatim.
func NewResolver(target PoseTarget) *Resolver {
	r := &Resolver{
		blendCache: make(map[string]string),
		boneCache:  make(map[string]string),
	}
	if rig, ok := target.(Rig); ok {
		if names := rig.BlendShapeNames(); names != nil {
			r.blendShapes = toSet(names)
		}
		if names := rig.BoneNames(); names != nil {
			r.bones = toSet(names)
		}
	}
	return r
}

// BlendShape resolves a blend-shape name. ok is false when neither the
// name nor any alias exists on the rig.
func (r *Resolver) BlendShape(name string) (string, bool) {
	return r.resolve(name, r.blendShapes, r.blendCache)
}

// Bone resolves a bone name.
func (r *Resolver) Bone(name string) (string, bool) {
	return r.resolve(name, r.bones, r.boneCache)
}

func (r *Resolver) resolve(name string, available map[string]struct{}, cache map[string]string) (string, bool) {
	if available == nil {
		return name, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if resolved, ok := cache[name]; ok {
		return resolved, resolved != ""
	}

	resolved := ""
	if _, ok := available[name]; ok {
		resolved = name
	} else {
		for _, alias := range Aliases(name) {
			if _, ok := available[alias]; ok {
				resolved = alias
				break
			}
		}
	}
	cache[name] = resolved
	return resolved, resolved != ""
}
