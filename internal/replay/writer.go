package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

const (
	// ManifestVersion is the bundle layout understood by Open.
	ManifestVersion = 1
	// DefaultFlushInterval is how often buffered frames reach the zstd stream.
	DefaultFlushInterval = 200 * time.Millisecond

	manifestName = "manifest.json"
	headerName   = "header.json"
	eventsName   = "events.jsonl.sz"
	framesName   = "frames.bin.zst"

	// runDirectoryLayout names bundles by creation instant down to the nanosecond.
	runDirectoryLayout      = "20060102T150405.000000000Z"
	maxRunDirectoryAttempts = 100

	// frameHeaderSize covers tick, simulated ms, captured ns and payload length.
	frameHeaderSize = 8 + 8 + 8 + 4
)

var runIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

var errWriterClosed = errors.New("replay writer not initialised")

// Manifest describes the bundle layout so tooling can locate its files.
type Manifest struct {
	Version         int    `json:"version"`
	RunID           string `json:"run_id"`
	CreatedAt       string `json:"created_at"`
	FlushIntervalMs int    `json:"flush_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

type pendingFrame struct {
	tick        uint64
	simulatedMs int64
	capturedAt  time.Time
	payload     []byte
}

// eventRecord is one line of the snappy framed events log.
type eventRecord struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  string          `json:"captured_at"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Writer records every simulated tick of a run. Events are written through
// immediately, frames are batched and flushed on a wall clock cadence.
type Writer struct {
	mu          sync.Mutex
	dir         string
	runID       string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []pendingFrame
	lastFlush   time.Time
	scene       Parameters
	body        Parameters
	frames      uint64
	closed      bool
}

// NewWriter creates root/<run>-<timestamp>/ and opens the compressed sinks.
func NewWriter(root, runID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := runIDCleaner.ReplaceAllString(runID, "")
	if cleaned == "" {
		cleaned = "run"
	}
	created := clock().UTC()
	dir, err := createRunDirectory(root, fmt.Sprintf("%s-%s", cleaned, created.Format(runDirectoryLayout)))
	if err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         ManifestVersion,
		RunID:           cleaned,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FlushIntervalMs: int(DefaultFlushInterval / time.Millisecond),
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	//1.- Open both sinks, unwinding whatever was opened if a later step fails.
	eventFile, err := os.Create(filepath.Join(dir, eventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(dir, framesName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         dir,
		runID:       cleaned,
		now:         clock,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// Directory exposes the bundle directory.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// FramesWritten reports how many frames were accepted so far.
func (w *Writer) FramesWritten() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// SetParameters records the scene and body tunables persisted in header.json.
func (w *Writer) SetParameters(scene, body Parameters) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.scene = scene.Clone()
	w.body = body.Clone()
	w.mu.Unlock()
}

// AppendEvent writes one JSON event line. payload must be valid JSON or nil.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if w == nil {
		return errWriterClosed
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("event %q payload is not valid JSON", eventType)
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}

	line, err := json.Marshal(eventRecord{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		Payload:     json.RawMessage(payload),
	})
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendFrame stages an encoded frame and flushes the batch once the cadence elapses.
func (w *Writer) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if w == nil {
		return errWriterClosed
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}

	w.pending = append(w.pending, pendingFrame{tick: tick, simulatedMs: simulatedMs, capturedAt: captured, payload: clone})
	w.frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= DefaultFlushInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Flush writes pending frames regardless of cadence and completes the current
// zstd block so the frames are readable before Close.
func (w *Writer) Flush() error {
	if w == nil {
		return errWriterClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.frameStream.Flush(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes header.json, flushes every buffer and releases the files.
// The first failure is returned after every step has been attempted.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(w.dir, headerName), Header{
		SchemaVersion: HeaderSchemaVersion,
		RunID:         w.runID,
		Scene:         w.scene.Clone(),
		Body:          w.body.Clone(),
		FilePointer:   manifestName,
	}))
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes staged frames to the zstd stream; callers hold the mutex.
func (w *Writer) flushLocked() error {
	header := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(header[0:8], frame.tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.simulatedMs))
		binary.LittleEndian.PutUint64(header[16:24], uint64(frame.capturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

// createRunDirectory creates root/name, adding a numeric suffix when a run
// started at the same instant already owns the name.
func createRunDirectory(root, name string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	for attempt := 0; attempt < maxRunDirectoryAttempts; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", name, attempt)
		}
		dir := filepath.Join(root, candidate)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("replay directory %q exhausted %d suffixes", name, maxRunDirectoryAttempts)
}
