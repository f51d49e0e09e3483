package replayplayer

import (
	"fmt"

	"sdfmover/engine/internal/replay"
	"sdfmover/engine/internal/telemetry"
)

// Summary is a decoded run: per-frame snapshots plus aggregate contact statistics.
type Summary struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
	Header   *replay.Header  `json:"header,omitempty"`
	Events   []replay.Event  `json:"events"`
	// Frames may hold non-finite values, so JSON output goes through protojson.
	Frames        []telemetry.Snapshot `json:"-"`
	StateCounts   map[string]int       `json:"state_counts"`
	Transitions   int                  `json:"transitions"`
	MaxIterations int                  `json:"max_iterations"`
	FirstTick     uint64               `json:"first_tick"`
	LastTick      uint64               `json:"last_tick"`
	SimulatedMs   int64                `json:"simulated_ms"`
}

// Summarize loads the bundle at path and decodes every frame.
func Summarize(path string) (*Summary, error) {
	bundle, err := replay.Open(path)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Dir:         bundle.Dir,
		Manifest:    bundle.Manifest,
		Header:      bundle.Header,
		Events:      bundle.Events,
		Frames:      make([]telemetry.Snapshot, 0, len(bundle.Frames)),
		StateCounts: map[string]int{},
	}
	for i, frame := range bundle.Frames {
		snapshot, err := telemetry.Unmarshal(frame.Payload)
		if err != nil {
			return nil, fmt.Errorf("frame %d (tick %d): %w", i, frame.Tick, err)
		}
		summary.Frames = append(summary.Frames, snapshot)
		summary.StateCounts[snapshot.State]++
		if snapshot.Iterations > summary.MaxIterations {
			summary.MaxIterations = snapshot.Iterations
		}
	}
	for _, event := range bundle.Events {
		if event.Type == "transition" {
			summary.Transitions++
		}
	}
	if n := len(summary.Frames); n > 0 {
		summary.FirstTick = summary.Frames[0].Tick
		summary.LastTick = summary.Frames[n-1].Tick
		summary.SimulatedMs = summary.Frames[n-1].SimulatedMs
	}
	return summary, nil
}
