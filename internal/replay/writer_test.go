package replay

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func newTestWriter(t *testing.T, now *time.Time) *Writer {
	t.Helper()
	writer, manifest, err := NewWriter(t.TempDir(), "Lattice Run!", func() time.Time { return *now })
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if manifest.RunID != "LatticeRun" || manifest.FlushIntervalMs != 200 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	return writer
}

func TestWriterRoundTripsThroughOpen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer := newTestWriter(t, &now)
	writer.SetParameters(Parameters{"lattice_span": 6}, Parameters{"radius": 0.5})

	if err := writer.AppendEvent(2, 40, "transition", []byte(`{"from":"free","to":"contacting"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		if err := writer.AppendFrame(tick, int64(tick)*20, []byte{byte(tick), 0xFF}); err != nil {
			t.Fatalf("append frame %d: %v", tick, err)
		}
		now = now.Add(110 * time.Millisecond)
	}
	if got := writer.FramesWritten(); got != 3 {
		t.Fatalf("expected 3 frames accepted, got %d", got)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bundle, err := Open(writer.Directory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if bundle.Header == nil || bundle.Header.RunID != "LatticeRun" || bundle.Header.Body["radius"] != 0.5 {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if len(bundle.Events) != 1 || bundle.Events[0].Type != "transition" || bundle.Events[0].Tick != 2 {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	if !strings.Contains(string(bundle.Events[0].Payload), `"contacting"`) {
		t.Fatalf("unexpected event payload %s", bundle.Events[0].Payload)
	}
	if len(bundle.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(bundle.Frames))
	}
	for i, frame := range bundle.Frames {
		tick := uint64(i + 1)
		if frame.Tick != tick || frame.SimulatedMs != int64(tick)*20 || frame.Payload[0] != byte(tick) {
			t.Fatalf("unexpected frame %d: %+v", i, frame)
		}
	}
	if !bundle.Frames[1].CapturedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, int(110*time.Millisecond), time.UTC)) {
		t.Fatalf("unexpected capture time %v", bundle.Frames[1].CapturedAt)
	}

	//1.- The manifest path works as well as the directory.
	if _, err := Open(filepath.Join(writer.Directory(), manifestName)); err != nil {
		t.Fatalf("open by manifest: %v", err)
	}
}

func TestWriterRejectsInvalidInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer := newTestWriter(t, &now)
	if err := writer.AppendEvent(1, 20, "bad", []byte("{not json")); err == nil {
		t.Fatal("expected invalid JSON payload to be rejected")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.AppendFrame(1, 20, nil); err == nil {
		t.Fatal("expected append after close to fail")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if _, _, err := NewWriter("", "x", nil); err == nil {
		t.Fatal("expected empty root to be rejected")
	}
}

func TestOpenToleratesMissingHeader(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer := newTestWriter(t, &now)
	if err := writer.AppendFrame(1, 20, []byte{1}); err != nil {
		t.Fatalf("append frame: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := os.Remove(filepath.Join(writer.Directory(), headerName)); err != nil {
		t.Fatalf("remove header: %v", err)
	}
	bundle, err := Open(writer.Directory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if bundle.Header != nil || len(bundle.Frames) != 1 {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
}

func TestOpenRejectsTruncatedFrames(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer := newTestWriter(t, &now)
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	//1.- Claim a ten byte payload but only write three.
	file, err := os.Create(filepath.Join(writer.Directory(), framesName))
	if err != nil {
		t.Fatalf("create frames: %v", err)
	}
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], 1)
	binary.LittleEndian.PutUint32(header[24:28], 10)
	if _, err := encoder.Write(append(header, 1, 2, 3)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	if _, err := Open(writer.Directory()); err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestFlushMakesFramesReadableBeforeClose(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer := newTestWriter(t, &now)
	defer writer.Close()

	const frames = 50
	for i := uint64(1); i <= frames; i++ {
		if err := writer.AppendFrame(i, int64(i)*20, []byte{byte(i)}); err != nil {
			t.Fatalf("append frame %d: %v", i, err)
		}
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	//1.- The run is still open, so there is no header and no closing zstd block.
	bundle, err := Open(writer.Directory())
	if err != nil {
		t.Fatalf("open open run: %v", err)
	}
	if bundle.Header != nil {
		t.Fatalf("expected no header before close, got %+v", bundle.Header)
	}
	if len(bundle.Frames) != frames {
		t.Fatalf("expected %d frames after flush, got %d", frames, len(bundle.Frames))
	}
	for i, frame := range bundle.Frames {
		if frame.Tick != uint64(i+1) || frame.Payload[0] != byte(i+1) {
			t.Fatalf("frame %d out of order: %+v", i, frame)
		}
	}
}

func TestNewWriterKeepsRunsStartedTogether(t *testing.T) {
	root := t.TempDir()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return created }

	first, _, err := NewWriter(root, "twin", clock)
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	second, _, err := NewWriter(root, "twin", clock)
	if err != nil {
		t.Fatalf("second writer: %v", err)
	}
	if first.Directory() == second.Directory() {
		t.Fatalf("expected distinct directories, both got %s", first.Directory())
	}

	if err := first.AppendFrame(1, 20, []byte{1}); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("close second: %v", err)
	}

	bundle, err := Open(first.Directory())
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if len(bundle.Frames) != 1 {
		t.Fatalf("expected first run to keep its frame, got %d", len(bundle.Frames))
	}
}
