package state

import (
	"errors"
	"sync"
	"time"

	"sdfmover/engine/internal/physics"
	"sdfmover/engine/internal/simulation"
)

// Transition records a change of contact state between two ticks.
type Transition struct {
	Tick uint64
	From physics.ContactState
	To   physics.ContactState
}

// TickReport collates everything one physics tick produced.
type TickReport struct {
	Tick        uint64
	SimulatedMs int64
	Response    physics.Response
	Body        physics.BodyState
	Transition  *Transition
}

// World owns the single body and its resolver and advances them in fixed steps.
type World struct {
	mu        sync.RWMutex
	body      *physics.RigidBody
	resolver  *physics.Resolver
	gravity   simulation.Vec3
	tick      uint64
	simulated time.Duration
	state     physics.ContactState
	last      TickReport
}

// NewWorld composes the body and resolver. Gravity is fixed for the world's lifetime.
func NewWorld(body *physics.RigidBody, resolver *physics.Resolver, gravity simulation.Vec3) (*World, error) {
	if body == nil || resolver == nil {
		return nil, errors.New("world requires a body and a resolver")
	}
	if !simulation.Finite(gravity) {
		return nil, errors.New("gravity must be finite")
	}
	world := &World{body: body, resolver: resolver, gravity: gravity, state: physics.StateFree}
	world.last = TickReport{Body: body.Snapshot()}
	return world, nil
}

// Gravity returns the world gravity vector.
func (w *World) Gravity() simulation.Vec3 { return w.gravity }

// AdvanceTick resolves contact, integrates the body and collects the report.
func (w *World) AdvanceTick(step time.Duration) TickReport {
	if w == nil || step <= 0 {
		return TickReport{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Contact response is written before integration so this tick's forces apply.
	response := w.resolver.Step(w.body, w.gravity)
	w.body.Integrate(step.Seconds(), w.gravity)
	w.tick++
	w.simulated += step

	report := TickReport{
		Tick:        w.tick,
		SimulatedMs: w.simulated.Milliseconds(),
		Response:    response,
		Body:        w.body.Snapshot(),
	}
	//2.- Surface contact state changes so recorders can log them as events.
	if response.State != w.state {
		report.Transition = &Transition{Tick: w.tick, From: w.state, To: response.State}
		w.state = response.State
	}
	w.last = report
	return report
}

// Snapshot returns the most recent tick report.
func (w *World) Snapshot() TickReport {
	if w == nil {
		return TickReport{}
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}
