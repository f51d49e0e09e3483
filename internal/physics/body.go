package physics

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"sdfmover/engine/internal/simulation"
)

// Vec3 aliases the simulation vector so callers only import one package.
type Vec3 = simulation.Vec3

// Body is the rigid body surface the contact resolver reads and writes once per tick.
type Body interface {
	Position() Vec3
	Velocity() Vec3
	AngularVelocity() Vec3
	Mass() float64
	SetVelocity(v Vec3)
	AddForce(f Vec3)
	AddTorque(t Vec3)
}

// Limits caps body speeds during integration. Zero disables a limit.
type Limits struct {
	MaxSpeed        float64
	MaxAngularSpeed float64
}

// BodyState is a value copy of the rigid body at a tick boundary.
type BodyState struct {
	Position        Vec3
	Velocity        Vec3
	AngularVelocity Vec3
	Orientation     mgl64.Quat
	Mass            float64
	Radius          float64
}

// RigidBody is a solid sphere integrated with semi-implicit Euler.
type RigidBody struct {
	position        Vec3
	velocity        Vec3
	angularVelocity Vec3
	orientation     mgl64.Quat
	mass            float64
	radius          float64
	inertia         float64
	force           Vec3
	torque          Vec3
	limits          Limits
}

// NewRigidBody places a resting sphere of the given mass and radius at position.
func NewRigidBody(position Vec3, mass, radius float64, limits Limits) (*RigidBody, error) {
	if !(mass > 0) || math.IsInf(mass, 0) {
		return nil, errors.New("rigid body mass must be positive and finite")
	}
	if !(radius > 0) {
		return nil, errors.New("rigid body radius must be positive")
	}
	if !simulation.Finite(position) {
		return nil, errors.New("rigid body position must be finite")
	}
	return &RigidBody{
		position:    position,
		orientation: mgl64.QuatIdent(),
		mass:        mass,
		radius:      radius,
		inertia:     0.4 * mass * radius * radius,
		limits:      limits,
	}, nil
}

// Position returns the world space centre.
func (b *RigidBody) Position() Vec3 { return b.position }

// Velocity returns the linear velocity.
func (b *RigidBody) Velocity() Vec3 { return b.velocity }

// AngularVelocity returns the angular velocity in radians per second.
func (b *RigidBody) AngularVelocity() Vec3 { return b.angularVelocity }

// Mass returns the body mass.
func (b *RigidBody) Mass() float64 { return b.mass }

// Radius returns the sphere radius.
func (b *RigidBody) Radius() float64 { return b.radius }

// SetVelocity overwrites the linear velocity.
func (b *RigidBody) SetVelocity(v Vec3) { b.velocity = v }

// SetAngularVelocity overwrites the angular velocity.
func (b *RigidBody) SetAngularVelocity(w Vec3) { b.angularVelocity = w }

// AddForce accumulates a force applied at the centre until the next Integrate.
func (b *RigidBody) AddForce(f Vec3) { b.force = b.force.Add(f) }

// AddTorque accumulates a torque until the next Integrate.
func (b *RigidBody) AddTorque(t Vec3) { b.torque = b.torque.Add(t) }

// PendingForce exposes the accumulated force, mostly for tests.
func (b *RigidBody) PendingForce() Vec3 { return b.force }

// PendingTorque exposes the accumulated torque.
func (b *RigidBody) PendingTorque() Vec3 { return b.torque }

// Integrate advances the body by step seconds under the given gravity and clears
// the force and torque accumulators.
func (b *RigidBody) Integrate(step float64, gravity Vec3) {
	//1.- Skip integration for invalid timesteps.
	if b == nil || !(step > 0) {
		return
	}
	//2.- Velocities first so the position update sees this tick's forces.
	accel := b.force.Mul(1 / b.mass).Add(gravity)
	b.velocity = clampMagnitude(b.velocity.Add(accel.Mul(step)), b.limits.MaxSpeed)
	angularAccel := b.torque.Mul(1 / b.inertia)
	b.angularVelocity = clampMagnitude(b.angularVelocity.Add(angularAccel.Mul(step)), b.limits.MaxAngularSpeed)
	//3.- Advance the centre and rotate the orientation about the angular velocity axis.
	b.position = b.position.Add(b.velocity.Mul(step))
	if axis, ok := simulation.NormalizeSafe(b.angularVelocity); ok {
		spin := mgl64.QuatRotate(b.angularVelocity.Len()*step, axis)
		b.orientation = spin.Mul(b.orientation).Normalize()
	}
	b.force = Vec3{}
	b.torque = Vec3{}
}

// Snapshot copies the current state.
func (b *RigidBody) Snapshot() BodyState {
	return BodyState{
		Position:        b.position,
		Velocity:        b.velocity,
		AngularVelocity: b.angularVelocity,
		Orientation:     b.orientation,
		Mass:            b.mass,
		Radius:          b.radius,
	}
}

func clampMagnitude(v Vec3, limit float64) Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return v
	}
	magnitude := v.Len()
	if magnitude <= limit {
		return v
	}
	return v.Mul(limit / magnitude)
}

var _ Body = (*RigidBody)(nil)
