package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sdfmover/engine/internal/replay"
)

// Entry pairs a run header with the bundle it points at.
type Entry struct {
	HeaderPath string        `json:"header_path"`
	BundlePath string        `json:"bundle_path"`
	Header     replay.Header `json:"header"`
}

// List walks root and returns every closed run, ordered by run id then path.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		bundle := header.FilePointer
		if !filepath.IsAbs(bundle) {
			bundle = filepath.Join(filepath.Dir(path), bundle)
		}
		entries = append(entries, Entry{HeaderPath: path, BundlePath: bundle, Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.RunID == entries[j].Header.RunID {
			return entries[i].BundlePath < entries[j].BundlePath
		}
		return entries[i].Header.RunID < entries[j].Header.RunID
	})
	return entries, nil
}

// MarshalEntries renders entries as indented JSON.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// SortedKeys returns the parameter names in lexical order.
func SortedKeys(params replay.Parameters) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
