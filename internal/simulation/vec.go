package simulation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is the vector type shared by the distance field and the contact code.
type Vec3 = mgl64.Vec3

// degenerateLength is the magnitude below which a vector has no usable direction.
const degenerateLength = 1e-12

var (
	// AxisX is the unit vector along +X.
	AxisX = Vec3{1, 0, 0}
	// AxisY is the unit vector along +Y and the default scene up direction.
	AxisY = Vec3{0, 1, 0}
	// AxisZ is the unit vector along +Z.
	AxisZ = Vec3{0, 0, 1}
)

// NormalizeSafe returns the unit vector of v, or the zero vector and false when v
// has no direction (zero, vanishingly small or non-finite).
func NormalizeSafe(v Vec3) (Vec3, bool) {
	//1.- Reject vectors whose direction cannot be recovered before dividing.
	length := v.Len()
	if !(length > degenerateLength) || math.IsInf(length, 0) {
		return Vec3{}, false
	}
	inv := 1.0 / length
	return Vec3{v[0] * inv, v[1] * inv, v[2] * inv}, true
}

// Abs returns the component wise absolute value.
func Abs(v Vec3) Vec3 {
	return Vec3{math.Abs(v[0]), math.Abs(v[1]), math.Abs(v[2])}
}

// MaxScalar clamps every component from below by s.
func MaxScalar(v Vec3, s float64) Vec3 {
	return Vec3{math.Max(v[0], s), math.Max(v[1], s), math.Max(v[2], s)}
}

// Fract returns the fractional part x - floor(x) of each component.
func Fract(v Vec3) Vec3 {
	return Vec3{
		v[0] - math.Floor(v[0]),
		v[1] - math.Floor(v[1]),
		v[2] - math.Floor(v[2]),
	}
}

// Finite reports whether every component is a finite number.
func Finite(v Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func mulElem(a, b Vec3) Vec3 {
	return Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func divElem(a, b Vec3) Vec3 {
	return Vec3{a[0] / b[0], a[1] / b[1], a[2] / b[2]}
}
