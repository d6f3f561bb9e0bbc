// Package store persists the source-event to platform-event mapping.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Mapping maps a source-calendar event id to the platform event id it produced.
type Mapping map[string]string

// Clone returns an independent copy of m.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SourceIDs returns the mapped source ids in sorted order.
func (m Mapping) SourceIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FileStore keeps the mapping in a single JSON object on disk.
type FileStore struct {
	Path string
}

// NewFileStore creates a new FileStore with the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the mapping from disk.
// A missing file yields an empty mapping and no error.
func (s *FileStore) Load() (Mapping, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Mapping{}, nil
	}

	// Older files store platform ids as JSON numbers.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file: %w", err)
	}

	m := make(Mapping, len(raw))
	for sourceID, v := range raw {
		switch id := v.(type) {
		case string:
			m[sourceID] = id
		case json.Number:
			m[sourceID] = id.String()
		case float64:
			m[sourceID] = strconv.FormatFloat(id, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("mapping for %q has unsupported type %T", sourceID, v)
		}
	}
	return m, nil
}

// Save overwrites the mapping file. The new content is written to a
// temporary file in the same directory and renamed into place, so readers
// never observe a partial file.
func (s *FileStore) Save(m Mapping) error {
	if m == nil {
		m = Mapping{}
	}
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp mapping file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write mapping file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync mapping file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close mapping file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set mapping file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace mapping file: %w", err)
	}
	return nil
}
