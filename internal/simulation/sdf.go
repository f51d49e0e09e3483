package simulation

import (
	"fmt"
	"math"
)

// SignedDistanceField exposes the sampling contract for collision queries.
type SignedDistanceField interface {
	Sample(point Vec3) float64
}

// SampleFunc adapts a function into a SignedDistanceField.
type SampleFunc func(Vec3) float64

// Sample invokes the wrapped sampling function.
func (s SampleFunc) Sample(point Vec3) float64 {
	return s(point)
}

// Mod folds p into the positive cell [0, |span|) per axis.
func Mod(p, span Vec3) Vec3 {
	//1.- Divide into cell units, keep the fractional part and scale back to world units.
	return mulElem(Fract(Abs(divElem(p, span))), Abs(span))
}

// Repeat folds p into a cell of the given span centred on the origin.
func Repeat(p, span Vec3) Vec3 {
	return Mod(p, span).Sub(span.Mul(0.5))
}

// SmoothMin blends two distances with the exponential smooth minimum
// -ln(exp(-k*d1) + exp(-k*d2)) / k.
//
// The sum is shifted by the smaller distance so large k*d never overflows.
// Non-positive, infinite or NaN sharpness degenerates to the hard minimum.
func SmoothMin(d1, d2, k float64) float64 {
	if !(k > 0) || math.IsInf(k, 1) {
		return math.Min(d1, d2)
	}
	m := math.Min(d1, d2)
	if math.IsInf(m, 0) || math.IsNaN(m) {
		return m
	}
	//1.- Both exponents are <= 0 so the sum stays within [1, 2].
	h := math.Exp(-k*(d1-m)) + math.Exp(-k*(d2-m))
	return m - math.Log(h)/k
}

// SphereField describes an analytic sphere signed distance function.
type SphereField struct {
	Center Vec3
	Radius float64
}

// Sample calculates the signed distance from a point to the sphere surface.
func (s SphereField) Sample(point Vec3) float64 {
	return point.Sub(s.Center).Len() - s.Radius
}

// PlaneField is a thick half space: everything below Offset - Thickness*Up is solid.
type PlaneField struct {
	Offset    Vec3
	Up        Vec3
	Thickness float64
}

// NewPlaneField normalizes the up direction and stores the plane representation.
func NewPlaneField(offset, up Vec3, thickness float64) (PlaneField, error) {
	unit, ok := NormalizeSafe(up)
	if !ok {
		return PlaneField{}, fmt.Errorf("plane up vector %v has no direction", up)
	}
	return PlaneField{Offset: offset, Up: unit, Thickness: thickness}, nil
}

// Sample returns the signed distance from the plane to the provided point.
func (p PlaneField) Sample(point Vec3) float64 {
	//1.- Project the offset delta onto the up axis and shift by the slab thickness.
	return point.Sub(p.Offset).Dot(p.Up) + p.Thickness
}

// RoundBoxField is an axis aligned box of half extent Size with rounded corners.
type RoundBoxField struct {
	Size  float64
	Round float64
}

// Sample returns the distance to the rounded box centred on the origin.
func (b RoundBoxField) Sample(point Vec3) float64 {
	q := MaxScalar(Abs(point).Sub(Vec3{b.Size, b.Size, b.Size}), 0)
	return q.Len() - b.Round
}

// RepeatField tiles Cell over an infinite lattice with the given span.
type RepeatField struct {
	Span Vec3
	Cell SignedDistanceField
}

// Sample evaluates the cell primitive in lattice-local coordinates.
func (r RepeatField) Sample(point Vec3) float64 {
	return r.Cell.Sample(Repeat(point, r.Span))
}

// SmoothUnionField blends two fields with SmoothMin.
type SmoothUnionField struct {
	A SignedDistanceField
	B SignedDistanceField
	K float64
}

// Sample returns the blended distance of both operands.
func (u SmoothUnionField) Sample(point Vec3) float64 {
	return SmoothMin(u.A.Sample(point), u.B.Sample(point), u.K)
}

// SceneConfig holds the geometry of the blended scene.
type SceneConfig struct {
	LatticeSpan    Vec3
	BoxSize        float64
	BoxRound       float64
	SphereCenter   Vec3
	SphereRadius   float64
	FloorOffset    Vec3
	FloorUp        Vec3
	FloorThickness float64
	Blend          float64
}

// DefaultSceneConfig returns the reference tiled-box, sphere and floor scene.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		LatticeSpan:    Vec3{6, 6, 6},
		BoxSize:        1,
		BoxRound:       0.2,
		SphereRadius:   3,
		FloorOffset:    Vec3{0, -3, 0},
		FloorUp:        AxisY,
		FloorThickness: 1,
		Blend:          1,
	}
}

// Validate rejects geometry that would make the field undefined.
func (c SceneConfig) Validate() error {
	for i, span := range c.LatticeSpan {
		if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
			return fmt.Errorf("lattice span axis %d must be finite and non-zero, got %v", i, span)
		}
	}
	if c.BoxSize < 0 || c.BoxRound < 0 {
		return fmt.Errorf("box size and rounding must be non-negative")
	}
	if c.SphereRadius < 0 {
		return fmt.Errorf("sphere radius must be non-negative, got %v", c.SphereRadius)
	}
	if !(c.Blend > 0) {
		return fmt.Errorf("blend sharpness must be positive, got %v", c.Blend)
	}
	return nil
}

// Scene is the smooth union of a box lattice, a sphere and a floor slab.
type Scene struct {
	Lattice RepeatField
	Sphere  SphereField
	Floor   PlaneField
	Blend   float64
}

// NewScene validates the configuration and assembles the scene primitives.
func NewScene(cfg SceneConfig) (*Scene, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	floor, err := NewPlaneField(cfg.FloorOffset, cfg.FloorUp, cfg.FloorThickness)
	if err != nil {
		return nil, err
	}
	return &Scene{
		Lattice: RepeatField{Span: cfg.LatticeSpan, Cell: RoundBoxField{Size: cfg.BoxSize, Round: cfg.BoxRound}},
		Sphere:  SphereField{Center: cfg.SphereCenter, Radius: cfg.SphereRadius},
		Floor:   floor,
		Blend:   cfg.Blend,
	}, nil
}

// Sample returns the blended signed distance of the whole scene.
func (s *Scene) Sample(point Vec3) float64 {
	//1.- Blend the lattice with the sphere first, then merge the floor slab.
	solids := SmoothMin(s.Lattice.Sample(point), s.Sphere.Sample(point), s.Blend)
	return SmoothMin(solids, s.Floor.Sample(point), s.Blend)
}

// Normal estimates the unit surface normal with central differences of step eps.
// It returns false when the sampled gradient vanishes.
func Normal(field SignedDistanceField, point Vec3, eps float64) (Vec3, bool) {
	dx := Vec3{eps, 0, 0}
	dy := Vec3{0, eps, 0}
	dz := Vec3{0, 0, eps}
	gradient := Vec3{
		field.Sample(point.Add(dx)) - field.Sample(point.Sub(dx)),
		field.Sample(point.Add(dy)) - field.Sample(point.Sub(dy)),
		field.Sample(point.Add(dz)) - field.Sample(point.Sub(dz)),
	}
	return NormalizeSafe(gradient)
}
