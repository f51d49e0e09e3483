package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"sdfmover/engine/internal/config"
	httpapi "sdfmover/engine/internal/http"
	"sdfmover/engine/internal/logging"
	"sdfmover/engine/internal/physics"
	"sdfmover/engine/internal/replay"
	"sdfmover/engine/internal/simulation"
	"sdfmover/engine/internal/state"
	"sdfmover/engine/internal/telemetry"
)

// host owns the simulated world and everything fed from its ticks.
type host struct {
	log          *logging.Logger
	world        *state.World
	monitor      *simulation.TickMonitor
	hub          *telemetry.Hub
	cleaner      *replay.Cleaner
	started      time.Time
	now          func() time.Time
	step         time.Duration
	publishEvery uint64

	recordMu sync.Mutex
	recorder *replay.Writer

	// loopDropped is wired to the running loop once it exists.
	loopDropped func() uint64
}

func newHost(cfg *config.Config, logger *logging.Logger, clock func() time.Time) (*host, error) {
	if cfg == nil {
		return nil, errors.New("host config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	if clock == nil {
		clock = time.Now
	}

	//1.- Build the static scene, then the body and resolver moving through it.
	sceneCfg := simulation.DefaultSceneConfig()
	sceneCfg.Blend = cfg.SceneBlend
	scene, err := simulation.NewScene(sceneCfg)
	if err != nil {
		return nil, err
	}
	material := physics.Material{
		Radius:          cfg.Body.Radius,
		Friction:        cfg.Body.Friction,
		AngularFriction: cfg.Body.AngularFriction,
		Restitution:     cfg.Body.Restitution,
	}
	tuning := physics.Tuning{
		Raymarch: simulation.RaymarchParams{
			MaxDistance:   cfg.Tuning.MaxTraceDistance,
			MinDistance:   cfg.Tuning.MinStepDistance,
			MaxIterations: cfg.Tuning.MaxIterations,
		},
		StaticGravityModifier: cfg.Tuning.StaticGravityModifier,
		BuriedGravityModifier: cfg.Tuning.BuriedGravityModifier,
		NormalEpsilon:         cfg.Tuning.NormalEpsilon,
	}
	resolver, err := physics.NewResolver(scene, material, tuning)
	if err != nil {
		return nil, err
	}
	body, err := physics.NewRigidBody(simulation.Vec3(cfg.Body.Spawn), cfg.Body.Mass, cfg.Body.Radius, physics.Limits{MaxSpeed: cfg.Body.MaxSpeed})
	if err != nil {
		return nil, err
	}
	world, err := state.NewWorld(body, resolver, simulation.Vec3(cfg.Gravity))
	if err != nil {
		return nil, err
	}

	h := &host{
		log:          logger.With(logging.String("component", "host")),
		world:        world,
		monitor:      simulation.NewTickMonitor(),
		hub:          telemetry.NewHub(),
		started:      clock(),
		now:          clock,
		step:         time.Duration(float64(time.Second) / cfg.TickHz),
		publishEvery: uint64(math.Max(1, math.Round(cfg.TickHz/cfg.TelemetryHz))),
	}

	//2.- Recording is optional; the cleaner only runs alongside a recorder.
	if cfg.ReplayDir != "" {
		recorder, manifest, err := replay.NewWriter(cfg.ReplayDir, "mover", clock)
		if err != nil {
			return nil, err
		}
		recorder.SetParameters(sceneParameters(sceneCfg), bodyParameters(cfg.Body, cfg.Tuning))
		h.recorder = recorder
		h.cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{MaxRuns: cfg.Replay.MaxRuns, MaxAge: cfg.Replay.MaxAge}, logger)
		h.log.Info("replay recording enabled", logging.String("directory", recorder.Directory()), logging.String("run_id", manifest.RunID))
	}
	return h, nil
}

// tick is the loop's step function.
func (h *host) tick(_ uint64, step time.Duration) {
	began := time.Now()
	report := h.world.AdvanceTick(step)
	h.monitor.Observe(time.Since(began))

	if report.Transition != nil {
		h.log.Info("contact state changed",
			logging.Uint64("tick", report.Tick),
			logging.String("from", report.Transition.From.String()),
			logging.String("to", report.Transition.To.String()),
			logging.Vec("position", report.Body.Position),
		)
	}

	snapshot := telemetry.FromReport(report)
	h.record(report, snapshot)
	if report.Tick%h.publishEvery == 0 || report.Transition != nil {
		h.hub.Publish(snapshot)
	}
}

func (h *host) record(report state.TickReport, snapshot telemetry.Snapshot) {
	h.recordMu.Lock()
	defer h.recordMu.Unlock()
	if h.recorder == nil {
		return
	}
	err := h.appendReplay(report, snapshot)
	if err == nil {
		return
	}
	//1.- A failing disk should not stall the simulation; stop recording instead.
	h.log.Error("replay recording disabled after write failure", logging.Error(err), logging.Uint64("tick", report.Tick))
	_ = h.recorder.Close()
	h.recorder = nil
}

func (h *host) appendReplay(report state.TickReport, snapshot telemetry.Snapshot) error {
	payload, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	if err := h.recorder.AppendFrame(report.Tick, report.SimulatedMs, payload); err != nil {
		return err
	}
	if report.Transition == nil {
		return nil
	}
	event, err := json.Marshal(struct {
		From string `json:"from"`
		To   string `json:"to"`
	}{report.Transition.From.String(), report.Transition.To.String()})
	if err != nil {
		return err
	}
	return h.recorder.AppendEvent(report.Tick, report.SimulatedMs, "transition", event)
}

// status samples the host for the operational endpoints.
func (h *host) status() httpapi.Status {
	latest := h.world.Snapshot()
	status := httpapi.Status{
		Ticks:            latest.Tick,
		Uptime:           h.now().Sub(h.started),
		Step:             h.step,
		ContactState:     latest.Response.State.String(),
		TickTimings:      h.monitor.Snapshot(),
		Subscribers:      h.hub.SubscriberCount(),
		TelemetryDropped: h.hub.Dropped(),
	}
	if h.loopDropped != nil {
		status.LoopDropped = h.loopDropped()
	}
	if h.cleaner != nil {
		status.ReplayStorage = h.cleaner.Stats()
	}
	h.recordMu.Lock()
	if h.recorder != nil {
		status.ReplayFrames = h.recorder.FramesWritten()
	}
	h.recordMu.Unlock()
	return status
}

// FlushReplay implements httpapi.ReplayFlusher.
func (h *host) FlushReplay(context.Context) (string, error) {
	h.recordMu.Lock()
	defer h.recordMu.Unlock()
	if h.recorder == nil {
		return "", errors.New("replay recording is not active")
	}
	if err := h.recorder.Flush(); err != nil {
		return "", err
	}
	return h.recorder.Directory(), nil
}

// close finalises the replay bundle. The loop must already be stopped.
func (h *host) close() error {
	h.recordMu.Lock()
	defer h.recordMu.Unlock()
	if h.recorder == nil {
		return nil
	}
	err := h.recorder.Close()
	h.log.Info("replay closed", logging.String("directory", h.recorder.Directory()), logging.Uint64("frames", h.recorder.FramesWritten()))
	h.recorder = nil
	return err
}

func sceneParameters(cfg simulation.SceneConfig) replay.Parameters {
	return replay.Parameters{
		"lattice_span_x":  cfg.LatticeSpan.X(),
		"lattice_span_y":  cfg.LatticeSpan.Y(),
		"lattice_span_z":  cfg.LatticeSpan.Z(),
		"box_size":        cfg.BoxSize,
		"box_round":       cfg.BoxRound,
		"sphere_radius":   cfg.SphereRadius,
		"floor_offset_y":  cfg.FloorOffset.Y(),
		"floor_thickness": cfg.FloorThickness,
		"blend":           cfg.Blend,
	}
}

func bodyParameters(body config.BodyConfig, tuning config.TuningConfig) replay.Parameters {
	return replay.Parameters{
		"radius":                  body.Radius,
		"mass":                    body.Mass,
		"friction":                body.Friction,
		"angular_friction":        body.AngularFriction,
		"restitution":             body.Restitution,
		"max_speed":               body.MaxSpeed,
		"max_trace_distance":      tuning.MaxTraceDistance,
		"min_step_distance":       tuning.MinStepDistance,
		"max_iterations":          float64(tuning.MaxIterations),
		"static_gravity_modifier": tuning.StaticGravityModifier,
		"buried_gravity_modifier": tuning.BuriedGravityModifier,
	}
}
