package telemetry

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"google.golang.org/protobuf/types/known/structpb"

	"sdfmover/engine/internal/physics"
	"sdfmover/engine/internal/simulation"
	"sdfmover/engine/internal/state"
)

func sampleReport() state.TickReport {
	return state.TickReport{
		Tick:        7,
		SimulatedMs: 140,
		Response: physics.Response{
			State:  physics.StateContacting,
			Traced: true,
			Result: simulation.RaymarchResult{
				Iterations:     2,
				TraveledLength: 0.004,
				SurfaceNormal:  simulation.AxisY,
			},
		},
		Body: physics.BodyState{
			Position:        simulation.Vec3{1, 0.5, -2},
			Velocity:        simulation.Vec3{0.7, 1.8, 0},
			AngularVelocity: simulation.Vec3{0, 0, -1.6},
			Orientation:     mgl64.QuatIdent(),
			Mass:            1,
			Radius:          0.5,
		},
	}
}

func TestFromReportFlattensTick(t *testing.T) {
	snapshot := FromReport(sampleReport())
	if snapshot.Tick != 7 || snapshot.SimulatedMs != 140 || snapshot.State != "contacting" || !snapshot.Traced {
		t.Fatalf("unexpected header fields %+v", snapshot)
	}
	if snapshot.Position != [3]float64{1, 0.5, -2} || snapshot.Normal != [3]float64{0, 1, 0} {
		t.Fatalf("unexpected vectors %+v", snapshot)
	}
	if snapshot.Orientation != [4]float64{1, 0, 0, 0} {
		t.Fatalf("expected identity orientation, got %v", snapshot.Orientation)
	}
}

func TestSnapshotBinaryRoundTrip(t *testing.T) {
	want := FromReport(sampleReport())
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestSnapshotEncodesNonFiniteAsNull(t *testing.T) {
	snapshot := FromReport(sampleReport())
	snapshot.TraveledLength = math.Inf(1)
	snapshot.Velocity[0] = math.NaN()

	payload, err := snapshot.MarshalProtoJSON()
	if err != nil {
		t.Fatalf("protojson: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["traveled_length"] != nil || decoded["state"] != "contacting" {
		t.Fatalf("unexpected JSON document %s", payload)
	}

	parsed, err := ParseSnapshot(snapshot.Proto())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !math.IsInf(parsed.TraveledLength, 1) || !math.IsNaN(parsed.Velocity[0]) || parsed.Velocity[1] != 1.8 {
		t.Fatalf("unexpected non-finite handling %+v", parsed)
	}
}

func TestParseSnapshotRejectsWrongTypes(t *testing.T) {
	msg := FromReport(sampleReport()).Proto()
	msg.Fields["state"] = structpb.NewNumberValue(3)
	if _, err := ParseSnapshot(msg); err == nil {
		t.Fatal("expected numeric state to be rejected")
	}

	msg = FromReport(sampleReport()).Proto()
	msg.Fields["position"] = structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(1)}})
	if _, err := ParseSnapshot(msg); err == nil {
		t.Fatal("expected short vector to be rejected")
	}
	if _, err := ParseSnapshot(nil); err == nil {
		t.Fatal("expected nil message to be rejected")
	}
}
