package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"sdfmover/engine/internal/config"
)

func TestRotatingWriterCompressesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mover.log")
	writer, err := openRotatingWriter(path, 64, 2, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer writer.Close()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writer.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	line := strings.Repeat("x", 39) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := writer.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	matches, err := filepath.Glob(path + ".*.zst")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	//1.- Four rotations happened, only the two newest archives survive.
	if len(matches) != 2 {
		t.Fatalf("expected 2 archives, got %v", matches)
	}
	if !strings.Contains(matches[1], "20260101T000004") {
		t.Fatalf("expected newest archive to survive, got %v", matches)
	}

	file, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer file.Close()
	dec, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	restored, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(restored) != line {
		t.Fatalf("unexpected archive content %q", restored)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != line {
		t.Fatalf("expected only the last line in the live file, got %q", current)
	}
}

func TestNewRotatingWriterValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	if _, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 0, MaxBackups: 1}); err == nil {
		t.Fatal("expected zero size to be rejected")
	}
	if _, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: -1}); err == nil {
		t.Fatal("expected negative backups to be rejected")
	}
}
