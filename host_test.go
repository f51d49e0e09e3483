package main

import (
	"context"
	"testing"
	"time"

	"sdfmover/engine/internal/config"
	"sdfmover/engine/internal/logging"
	"sdfmover/engine/internal/replay"
	"sdfmover/engine/internal/telemetry"
)

func testConfig(replayDir string) *config.Config {
	return &config.Config{
		TickHz:      config.DefaultTickHz,
		TelemetryHz: config.DefaultTickHz,
		Gravity:     config.DefaultGravity,
		ReplayDir:   replayDir,
		Replay:      config.ReplayRetention{MaxRuns: config.DefaultReplayMaxRuns},
		Body: config.BodyConfig{
			Spawn:           config.DefaultSpawn,
			Radius:          config.DefaultRadius,
			Mass:            config.DefaultMass,
			Friction:        config.DefaultFriction,
			AngularFriction: config.DefaultAngularFriction,
			Restitution:     config.DefaultRestitution,
			MaxSpeed:        config.DefaultMaxSpeed,
		},
		Tuning: config.TuningConfig{
			MaxTraceDistance:      config.DefaultMaxTraceDistance,
			MinStepDistance:       config.DefaultMinStepDistance,
			MaxIterations:         config.DefaultMaxIterations,
			StaticGravityModifier: config.DefaultStaticGravityModifier,
			BuriedGravityModifier: config.DefaultBuriedGravityModifier,
			NormalEpsilon:         config.DefaultNormalEpsilon,
		},
		SceneBlend: config.DefaultSceneBlend,
	}
}

func TestHostRecordsAndPublishesEveryTick(t *testing.T) {
	cfg := testConfig(t.TempDir())
	h, err := newHost(cfg, logging.NewTestLogger(), nil)
	if err != nil {
		t.Fatalf("newHost: %v", err)
	}
	updates, cancel := h.hub.Subscribe(context.Background())
	defer cancel()

	step := time.Second / time.Duration(config.DefaultTickHz)
	const ticks = 100
	for i := uint64(1); i <= ticks; i++ {
		h.tick(i, step)
		//1.- Drain so the bounded subscription never drops.
		if got := <-updates; got.Tick != i {
			t.Fatalf("expected snapshot for tick %d, got %d", i, got.Tick)
		}
	}

	status := h.status()
	if status.Ticks != ticks || status.ReplayFrames != ticks || status.Subscribers != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	dir, err := h.FlushReplay(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := h.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bundle, err := replay.Open(dir)
	if err != nil {
		t.Fatalf("open replay: %v", err)
	}
	if len(bundle.Frames) != ticks {
		t.Fatalf("expected %d frames, got %d", ticks, len(bundle.Frames))
	}
	if bundle.Header == nil || bundle.Header.Scene["blend"] != config.DefaultSceneBlend || bundle.Header.Body["radius"] != config.DefaultRadius {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	last, err := telemetry.Unmarshal(bundle.Frames[ticks-1].Payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if last.Tick != ticks || last.SimulatedMs != (step*ticks).Milliseconds() {
		t.Fatalf("unexpected last frame %+v", last)
	}
	for _, event := range bundle.Events {
		if event.Type != "transition" {
			t.Fatalf("unexpected event type %q", event.Type)
		}
	}
}

func TestHostThrottlesTelemetry(t *testing.T) {
	cfg := testConfig("")
	cfg.TelemetryHz = 10
	h, err := newHost(cfg, logging.NewTestLogger(), nil)
	if err != nil {
		t.Fatalf("newHost: %v", err)
	}
	if h.publishEvery != 5 {
		t.Fatalf("expected every fifth tick to publish, got %d", h.publishEvery)
	}
	if _, err := h.FlushReplay(context.Background()); err == nil {
		t.Fatal("expected flush without a recorder to fail")
	}
	if err := h.close(); err != nil {
		t.Fatalf("close without recorder: %v", err)
	}
}

func TestHostRejectsInvalidBody(t *testing.T) {
	cfg := testConfig("")
	cfg.Body.Mass = 0
	if _, err := newHost(cfg, logging.NewTestLogger(), nil); err == nil {
		t.Fatal("expected zero mass to be rejected")
	}
}
