package anim

// Easing names a time-remapping function applied between keyframes.
type Easing string

const (
	EaseLinear Easing = "linear"
	EaseIn     Easing = "ease-in"
	EaseOut    Easing = "ease-out"
	EaseInOut  Easing = "ease-in-out"
)

// Apply remaps t in [0,1]. Unknown easings fall back to linear.
func (e Easing) Apply(t float32) float32 {
	switch e {
	case EaseIn:
		return easeInQuad(t)
	case EaseOut:
		return easeOutQuad(t)
	case EaseInOut:
		return easeInOutQuad(t)
	default:
		return t
	}
}

func easeInQuad(t float32) float32 {
	return t * t
}

func easeOutQuad(t float32) float32 {
	return 1 - (1-t)*(1-t)
}

func easeInOutQuad(t float32) float32 {
	if t < 0.5 {
		return 2 * t * t
	}
	u := -2*t + 2
	return 1 - u*u/2
}
