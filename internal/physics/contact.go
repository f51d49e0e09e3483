package physics

import (
	"errors"
	"fmt"

	"sdfmover/engine/internal/simulation"
)

// ContactState classifies one tick of the sphere against the field.
type ContactState int

const (
	// StateFree means no surface was reached this tick.
	StateFree ContactState = iota
	// StateContacting means the surface lies within the contact threshold ahead.
	StateContacting
	// StateBuried means the body centre is inside the field.
	StateBuried
)

func (s ContactState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateContacting:
		return "contacting"
	case StateBuried:
		return "buried"
	default:
		return fmt.Sprintf("ContactState(%d)", int(s))
	}
}

// Material is the per-body contact configuration fixed at construction.
type Material struct {
	Radius          float64
	Friction        float64
	AngularFriction float64
	Restitution     float64
}

// DefaultMaterial mirrors the reference body tuning.
func DefaultMaterial() Material {
	return Material{Radius: 0.5, Friction: 0.3, AngularFriction: 0.6, Restitution: 0.9}
}

// Validate rejects radii and coefficients outside their physical range.
func (m Material) Validate() error {
	if !(m.Radius > 0) {
		return errors.New("material radius must be positive")
	}
	coefficients := []struct {
		name  string
		value float64
	}{
		{"friction", m.Friction},
		{"angular friction", m.AngularFriction},
		{"restitution", m.Restitution},
	}
	for _, c := range coefficients {
		if !(c.value >= 0 && c.value <= 1) {
			return fmt.Errorf("material %s must be within [0,1], got %v", c.name, c.value)
		}
	}
	return nil
}

// Tuning holds the global resolver constants.
type Tuning struct {
	Raymarch              simulation.RaymarchParams
	StaticGravityModifier float64
	BuriedGravityModifier float64
	NormalEpsilon         float64
}

// DefaultTuning returns the reference resolver constants.
func DefaultTuning() Tuning {
	return Tuning{
		Raymarch:              simulation.DefaultRaymarchParams(),
		StaticGravityModifier: 1.2,
		BuriedGravityModifier: 3,
		NormalEpsilon:         0.01,
	}
}

// Validate checks the raymarch bounds and the modifiers.
func (t Tuning) Validate() error {
	if err := t.Raymarch.Validate(); err != nil {
		return err
	}
	if t.StaticGravityModifier < 0 || t.BuriedGravityModifier < 0 {
		return errors.New("gravity modifiers must be non-negative")
	}
	if !(t.NormalEpsilon > 0) {
		return errors.New("normal epsilon must be positive")
	}
	return nil
}

// Response is the outcome of one tick. At most one state branch is populated.
type Response struct {
	State  ContactState
	Result simulation.RaymarchResult
	// Traced is false when the body had no velocity to trace along.
	Traced            bool
	OverwriteVelocity bool
	Velocity          Vec3
	Force             Vec3
	Torque            Vec3
}

// Resolver sphere traces a body against a static field and derives its contact response.
type Resolver struct {
	field    simulation.SignedDistanceField
	material Material
	tuning   Tuning
}

// NewResolver binds the field and the immutable configuration.
func NewResolver(field simulation.SignedDistanceField, material Material, tuning Tuning) (*Resolver, error) {
	if field == nil {
		return nil, errors.New("resolver requires a distance field")
	}
	if err := material.Validate(); err != nil {
		return nil, err
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{field: field, material: material, tuning: tuning}, nil
}

// Material returns the configured body material.
func (r *Resolver) Material() Material { return r.material }

// Tuning returns the configured constants.
func (r *Resolver) Tuning() Tuning { return r.tuning }

// Trace sphere traces along the body's velocity. A body without velocity is not
// traced: only the buried test runs and the result reports no contact ahead.
func (r *Resolver) Trace(body Body) (simulation.RaymarchResult, bool) {
	params := r.tuning.Raymarch
	dir, ok := simulation.NormalizeSafe(body.Velocity())
	if !ok {
		center := body.Position()
		normal, _ := simulation.Normal(r.field, center, r.tuning.NormalEpsilon)
		return simulation.RaymarchResult{
			Buried:         r.field.Sample(center) < params.MinDistance,
			TraveledLength: params.MaxDistance,
			HitPosition:    center,
			SurfaceNormal:  normal,
		}, false
	}
	return simulation.Raymarch(r.field, body.Position(), r.material.Radius, dir, params, r.tuning.NormalEpsilon), true
}

// Resolve classifies the tick and computes the response without touching the body.
func (r *Resolver) Resolve(body Body, gravity Vec3) Response {
	result, traced := r.Trace(body)
	response := Response{State: StateFree, Result: result, Traced: traced}
	mass := body.Mass()

	switch {
	case result.Buried:
		//1.- Push out along the field gradient; the trace cannot find a contact from inside.
		response.State = StateBuried
		response.Force = result.SurfaceNormal.Mul(mass * gravity.Len() * r.tuning.BuriedGravityModifier)
	case traced && result.Contacting(r.tuning.Raymarch):
		//2.- Bounce and damp, then hold the body up slightly harder than gravity pulls it down.
		response.State = StateContacting
		response.OverwriteVelocity = true
		response.Velocity = ContactVelocity(body.Velocity(), result.SurfaceNormal, r.material.Friction, r.material.Restitution)
		response.Force = gravity.Mul(-mass * r.tuning.StaticGravityModifier)
		//3.- Uniform rotational damping, independent of the contact point.
		response.Torque = body.AngularVelocity().Mul(-(1 - r.material.AngularFriction))
	}
	return response
}

// Step resolves the tick and applies the response to the body.
func (r *Resolver) Step(body Body, gravity Vec3) Response {
	response := r.Resolve(body, gravity)
	Apply(body, response)
	return response
}

// ContactVelocity splits v about the unit normal n, damps the tangential part by
// friction and reflects the normal part scaled by restitution.
func ContactVelocity(v, n Vec3, friction, restitution float64) Vec3 {
	normal := n.Mul(v.Dot(n))
	tangential := v.Sub(normal)
	return tangential.Mul(1 - friction).Add(normal.Mul(-restitution))
}

// Apply writes a response to the body: velocity overwrite, then force, then torque.
func Apply(body Body, response Response) {
	switch response.State {
	case StateBuried:
		body.AddForce(response.Force)
	case StateContacting:
		if response.OverwriteVelocity {
			body.SetVelocity(response.Velocity)
		}
		body.AddForce(response.Force)
		body.AddTorque(response.Torque)
	}
}
