package simulation

import (
	"errors"
	"math"
)

// RaymarchParams bounds a single sphere trace.
type RaymarchParams struct {
	// MaxDistance is the traveled length after which the trace gives up.
	MaxDistance float64
	// MinDistance is the contact threshold for both the trace and the buried test.
	MinDistance float64
	// MaxIterations caps the number of distance evaluations in the loop.
	MaxIterations int
}

// DefaultRaymarchParams returns the reference tuning.
func DefaultRaymarchParams() RaymarchParams {
	return RaymarchParams{MaxDistance: 10, MinDistance: 0.01, MaxIterations: 10}
}

// Validate ensures the loop is bounded and has a usable contact threshold.
func (p RaymarchParams) Validate() error {
	if !(p.MaxDistance > 0) {
		return errors.New("raymarch max distance must be positive")
	}
	if !(p.MinDistance > 0) {
		return errors.New("raymarch min distance must be positive")
	}
	if p.MinDistance >= p.MaxDistance {
		return errors.New("raymarch min distance must be below max distance")
	}
	if p.MaxIterations <= 0 {
		return errors.New("raymarch max iterations must be positive")
	}
	return nil
}

// RaymarchResult is the snapshot of one sphere trace from a body's surface.
type RaymarchResult struct {
	Iterations     int
	Buried         bool
	StepDistance   float64
	TraveledLength float64
	Direction      Vec3
	HitPosition    Vec3
	SurfaceNormal  Vec3
}

// Contacting reports whether the trace reached the surface on its first steps.
func (r RaymarchResult) Contacting(p RaymarchParams) bool {
	return r.TraveledLength < p.MinDistance
}

// Raymarch sphere traces from the surface of a sphere of the given radius centred
// on center along the unit direction dir.
func Raymarch(field SignedDistanceField, center Vec3, radius float64, dir Vec3, params RaymarchParams, normalEps float64) RaymarchResult {
	//1.- Start on the body's surface so the field does not need inflating by the radius.
	pos := center.Add(dir.Mul(radius))
	traveled := 0.0
	dist := 0.0
	iterations := 0
	for iterations < params.MaxIterations {
		dist = field.Sample(pos)
		iterations++
		if math.IsNaN(dist) || math.IsInf(dist, 0) {
			//2.- A poisoned sample can never produce a contact; report it as free flight.
			traveled = math.Inf(1)
			break
		}
		traveled += dist
		pos = pos.Add(dir.Mul(dist))
		if dist < params.MinDistance || traveled > params.MaxDistance {
			break
		}
	}
	//3.- The buried test looks at the centre, which the forward trace cannot escape from.
	buried := field.Sample(center) < params.MinDistance
	normal, _ := Normal(field, pos, normalEps)
	return RaymarchResult{
		Iterations:     iterations,
		Buried:         buried,
		StepDistance:   dist,
		TraveledLength: traveled,
		Direction:      dir,
		HitPosition:    pos,
		SurfaceNormal:  normal,
	}
}
