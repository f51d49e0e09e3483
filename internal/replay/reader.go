package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Event is a decoded line of the events log.
type Event struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  time.Time       `json:"captured_at"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Frame is a decoded entry of the frames stream.
type Frame struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// Bundle is a fully loaded run directory.
type Bundle struct {
	Dir      string
	Manifest Manifest
	// Header is nil when the run was not closed cleanly.
	Header *Header
	Events []Event
	Frames []Frame
}

// Open loads a bundle from its directory or from the path of its manifest.json.
func Open(path string) (*Bundle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("replay path is required")
	}

	//1.- Resolve the manifest so relative file names are anchored to its directory.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestName)
	}
	dir := filepath.Dir(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	bundle := &Bundle{Dir: dir, Manifest: manifest}

	//2.- A crashed run has no header yet; the streams are still readable.
	header, err := ReadHeader(filepath.Join(dir, headerName))
	switch {
	case err == nil:
		bundle.Header = &header
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read header: %w", err)
	}

	if bundle.Events, err = readEvents(filepath.Join(dir, manifest.EventsPath)); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, manifest.FramesPath)); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return bundle, nil
}

func readEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record eventRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:        record.Tick,
			SimulatedMs: record.SimulatedMs,
			CapturedAt:  captured,
			Type:        record.Type,
			Payload:     record.Payload,
		})
	}
	return events, scanner.Err()
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	reader := bufio.NewReader(decoder)
	header := make([]byte, frameHeaderSize)
	var frames []Frame
	for {
		if n, err := io.ReadFull(reader, header); err != nil {
			//1.- A run that was flushed but never closed ends without the final zstd block.
			if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return frames, nil
			}
			return nil, fmt.Errorf("frame %d header truncated: %w", len(frames), err)
		}
		size := binary.LittleEndian.Uint32(header[24:28])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("frame %d payload truncated: %w", len(frames), err)
		}
		frames = append(frames, Frame{
			Tick:        binary.LittleEndian.Uint64(header[0:8]),
			SimulatedMs: int64(binary.LittleEndian.Uint64(header[8:16])),
			CapturedAt:  time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
			Payload:     payload,
		})
	}
}
