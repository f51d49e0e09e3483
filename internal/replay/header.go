package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for run header documents.
const HeaderSchemaVersion = 1

// Parameters captures named numeric tunables recorded with a run.
type Parameters map[string]float64

// Clone returns a copy of the parameters map.
func (p Parameters) Clone() Parameters {
	if len(p) == 0 {
		return nil
	}
	clone := make(Parameters, len(p))
	for key, value := range p {
		clone[key] = value
	}
	return clone
}

// Header describes the scene and body a run was recorded against.
type Header struct {
	SchemaVersion int        `json:"schema_version"`
	RunID         string     `json:"run_id"`
	Scene         Parameters `json:"scene,omitempty"`
	Body          Parameters `json:"body,omitempty"`
	FilePointer   string     `json:"file_pointer"`
}

// Validate ensures the header can be resolved back to its bundle.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and validates a run header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
