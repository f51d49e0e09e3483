package state

import (
	"testing"
	"time"

	"sdfmover/engine/internal/physics"
	"sdfmover/engine/internal/simulation"
)

var earthGravity = simulation.Vec3{0, -9.8, 0}

func newGroundWorld(t *testing.T, spawn simulation.Vec3, material physics.Material) *World {
	t.Helper()
	plane, err := simulation.NewPlaneField(simulation.Vec3{}, simulation.AxisY, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolver, err := physics.NewResolver(plane, material, physics.DefaultTuning())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := physics.NewRigidBody(spawn, 1, material.Radius, physics.Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	world, err := NewWorld(body, resolver, earthGravity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return world
}

func TestDroppedSphereSettlesOnGround(t *testing.T) {
	material := physics.DefaultMaterial()
	material.Restitution = 0.5
	world := newGroundWorld(t, simulation.Vec3{0, 2, 0}, material)
	step := time.Second / 60

	const ticks = 600
	const window = 120
	for i := 0; i < ticks; i++ {
		report := world.AdvanceTick(step)
		//1.- The body must bounce off the surface, never sink to its centre.
		if report.Response.State == physics.StateBuried {
			t.Fatalf("tick %d: body reported buried at %v", report.Tick, report.Body.Position)
		}
		if i < ticks-window {
			continue
		}
		//2.- Over the final two seconds the body rests near one radius above the plane.
		if speed := report.Body.Velocity.Len(); speed > 0.15 {
			t.Fatalf("tick %d: expected settled speed, got %f", report.Tick, speed)
		}
		if y := report.Body.Position.Y(); y < 0.3 || y > 0.6 {
			t.Fatalf("tick %d: expected resting height near 0.5, got %f", report.Tick, y)
		}
	}
	if snapshot := world.Snapshot(); snapshot.Tick != ticks || snapshot.SimulatedMs != (step * ticks).Milliseconds() {
		t.Fatalf("unexpected final snapshot tick=%d ms=%d", snapshot.Tick, snapshot.SimulatedMs)
	}
}

func TestDroppedSphereSettlesOnDefaultSceneFloor(t *testing.T) {
	scene, err := simulation.NewScene(simulation.DefaultSceneConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	material := physics.DefaultMaterial()
	material.Restitution = 0.5
	resolver, err := physics.NewResolver(scene, material, physics.DefaultTuning())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := physics.NewRigidBody(simulation.Vec3{0, 3, 20}, 1, material.Radius, physics.Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	world, err := NewWorld(body, resolver, earthGravity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := time.Second / 60

	const ticks = 600
	const window = 120
	for i := 0; i < ticks; i++ {
		report := world.AdvanceTick(step)
		if i < ticks-window {
			continue
		}
		//1.- At rest on the blended floor the body hovers, never buried.
		if report.Response.State == physics.StateBuried {
			t.Fatalf("tick %d: body reported buried at %v", report.Tick, report.Body.Position)
		}
		if speed := report.Body.Velocity.Len(); speed > 0.25 {
			t.Fatalf("tick %d: expected settled speed, got %f", report.Tick, speed)
		}
		if y := report.Body.Position.Y(); y < -3 || y > 3 {
			t.Fatalf("tick %d: expected body above the floor slab, got %f", report.Tick, y)
		}
	}
}

func TestAdvanceTickReportsTransitions(t *testing.T) {
	world := newGroundWorld(t, simulation.Vec3{0, 1, 0}, physics.DefaultMaterial())
	step := time.Second / 60

	var transitions []Transition
	for i := 0; i < 60; i++ {
		report := world.AdvanceTick(step)
		if report.Transition != nil {
			transitions = append(transitions, *report.Transition)
		}
	}
	if len(transitions) == 0 {
		t.Fatal("expected the first landing to be reported")
	}
	first := transitions[0]
	if first.From != physics.StateFree || first.To != physics.StateContacting {
		t.Fatalf("expected free->contacting, got %v->%v", first.From, first.To)
	}
	for i := 1; i < len(transitions); i++ {
		if transitions[i].From != transitions[i-1].To {
			t.Fatalf("transition chain broken at %d: %+v", i, transitions)
		}
	}
}

func TestDefaultSceneStaysFinite(t *testing.T) {
	scene, err := simulation.NewScene(simulation.DefaultSceneConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolver, err := physics.NewResolver(scene, physics.DefaultMaterial(), physics.DefaultTuning())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := physics.NewRigidBody(simulation.Vec3{6, 8, 6}, 1, 0.5, physics.Limits{MaxSpeed: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	world, err := NewWorld(body, resolver, earthGravity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 500; i++ {
		report := world.AdvanceTick(time.Second / 50)
		if !simulation.Finite(report.Body.Position) || !simulation.Finite(report.Body.Velocity) || !simulation.Finite(report.Body.AngularVelocity) {
			t.Fatalf("tick %d: non-finite body state %+v", report.Tick, report.Body)
		}
	}
}

func TestAdvanceTickIgnoresInvalidStep(t *testing.T) {
	world := newGroundWorld(t, simulation.Vec3{0, 3, 0}, physics.DefaultMaterial())
	if report := world.AdvanceTick(0); report.Tick != 0 {
		t.Fatalf("expected no tick for zero step, got %d", report.Tick)
	}
	if world.Snapshot().Body.Position != (simulation.Vec3{0, 3, 0}) {
		t.Fatal("expected body to remain in place")
	}
}

func TestNewWorldValidates(t *testing.T) {
	if _, err := NewWorld(nil, nil, earthGravity); err == nil {
		t.Fatal("expected missing collaborators to be rejected")
	}
}
