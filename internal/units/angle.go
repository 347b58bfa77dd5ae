package units

import "math"

// WrapDegrees maps an angle onto (-180, 180].
func WrapDegrees(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return deg
	}
	wrapped := math.Mod(deg, 360)
	if wrapped <= -180 {
		wrapped += 360
	} else if wrapped > 180 {
		wrapped -= 360
	}
	return wrapped
}

// WithinTolerance reports whether |deg| <= tol after wrapping. The band is
// closed on both ends.
func WithinTolerance(deg, tol float64) bool {
	return math.Abs(WrapDegrees(deg)) <= tol
}
