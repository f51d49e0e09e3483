package telemetry

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"sdfmover/engine/internal/state"
)

// Snapshot is the per-tick view of the body published to subscribers and replays.
type Snapshot struct {
	Tick            uint64     `json:"tick"`
	SimulatedMs     int64      `json:"simulated_ms"`
	State           string     `json:"state"`
	Traced          bool       `json:"traced"`
	Buried          bool       `json:"buried"`
	Iterations      int        `json:"iterations"`
	TraveledLength  float64    `json:"traveled_length"`
	Position        [3]float64 `json:"position"`
	Velocity        [3]float64 `json:"velocity"`
	AngularVelocity [3]float64 `json:"angular_velocity"`
	Orientation     [4]float64 `json:"orientation"`
	Normal          [3]float64 `json:"normal"`
}

// FromReport flattens a world tick report.
func FromReport(report state.TickReport) Snapshot {
	body := report.Body
	result := report.Response.Result
	return Snapshot{
		Tick:            report.Tick,
		SimulatedMs:     report.SimulatedMs,
		State:           report.Response.State.String(),
		Traced:          report.Response.Traced,
		Buried:          result.Buried,
		Iterations:      result.Iterations,
		TraveledLength:  result.TraveledLength,
		Position:        body.Position,
		Velocity:        body.Velocity,
		AngularVelocity: body.AngularVelocity,
		Orientation:     [4]float64{body.Orientation.W, body.Orientation.V[0], body.Orientation.V[1], body.Orientation.V[2]},
		Normal:          result.SurfaceNormal,
	}
}

// Proto encodes the snapshot as a protobuf Struct. Non-finite numbers become null
// since neither JSON nor protojson can carry them.
func (s Snapshot) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tick":             structpb.NewNumberValue(float64(s.Tick)),
		"simulated_ms":     structpb.NewNumberValue(float64(s.SimulatedMs)),
		"state":            structpb.NewStringValue(s.State),
		"traced":           structpb.NewBoolValue(s.Traced),
		"buried":           structpb.NewBoolValue(s.Buried),
		"iterations":       structpb.NewNumberValue(float64(s.Iterations)),
		"traveled_length":  number(s.TraveledLength),
		"position":         list(s.Position[:]),
		"velocity":         list(s.Velocity[:]),
		"angular_velocity": list(s.AngularVelocity[:]),
		"orientation":      list(s.Orientation[:]),
		"normal":           list(s.Normal[:]),
	}}
}

// Marshal encodes the snapshot in protobuf wire format.
func (s Snapshot) Marshal() ([]byte, error) {
	return proto.Marshal(s.Proto())
}

// MarshalProtoJSON encodes the snapshot with protojson.
func (s Snapshot) MarshalProtoJSON() ([]byte, error) {
	return protojson.Marshal(s.Proto())
}

// Unmarshal decodes a snapshot produced by Marshal.
func Unmarshal(data []byte) (Snapshot, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return ParseSnapshot(&msg)
}

// ParseSnapshot rebuilds a snapshot from its Struct form. A null traveled
// length is read back as +Inf.
func ParseSnapshot(msg *structpb.Struct) (Snapshot, error) {
	if msg == nil {
		return Snapshot{}, fmt.Errorf("snapshot is nil")
	}
	p := parser{fields: msg.GetFields()}
	s := Snapshot{
		Tick:           uint64(p.number("tick", 0)),
		SimulatedMs:    int64(p.number("simulated_ms", 0)),
		State:          p.str("state"),
		Traced:         p.boolean("traced"),
		Buried:         p.boolean("buried"),
		Iterations:     int(p.number("iterations", 0)),
		TraveledLength: p.number("traveled_length", math.Inf(1)),
	}
	p.vector("position", s.Position[:])
	p.vector("velocity", s.Velocity[:])
	p.vector("angular_velocity", s.AngularVelocity[:])
	p.vector("orientation", s.Orientation[:])
	p.vector("normal", s.Normal[:])
	if p.err != nil {
		return Snapshot{}, p.err
	}
	return s, nil
}

func number(v float64) *structpb.Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(v)
}

func list(values []float64) *structpb.Value {
	items := make([]*structpb.Value, len(values))
	for i, v := range values {
		items[i] = number(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: items})
}

// parser records the first type mismatch and keeps zero values afterwards.
type parser struct {
	fields map[string]*structpb.Value
	err    error
}

func (p *parser) fail(key, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("snapshot field %q must be %s", key, want)
	}
}

func (p *parser) number(key string, null float64) float64 {
	value, ok := p.fields[key]
	if !ok {
		return 0
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return kind.NumberValue
	case *structpb.Value_NullValue:
		return null
	default:
		p.fail(key, "a number")
		return 0
	}
}

func (p *parser) str(key string) string {
	value, ok := p.fields[key]
	if !ok {
		return ""
	}
	kind, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok {
		p.fail(key, "a string")
		return ""
	}
	return kind.StringValue
}

func (p *parser) boolean(key string) bool {
	value, ok := p.fields[key]
	if !ok {
		return false
	}
	kind, ok := value.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		p.fail(key, "a bool")
		return false
	}
	return kind.BoolValue
}

func (p *parser) vector(key string, out []float64) {
	value, ok := p.fields[key]
	if !ok {
		return
	}
	items := value.GetListValue().GetValues()
	if len(items) != len(out) {
		p.fail(key, fmt.Sprintf("a list of %d numbers", len(out)))
		return
	}
	for i, item := range items {
		switch kind := item.GetKind().(type) {
		case *structpb.Value_NumberValue:
			out[i] = kind.NumberValue
		case *structpb.Value_NullValue:
			out[i] = math.NaN()
		default:
			p.fail(key, "a list of numbers")
			return
		}
	}
}
