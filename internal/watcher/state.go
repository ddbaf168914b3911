package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// stateFileVersion is the only supported watch_state.json schema version.
const stateFileVersion = 1

// state is the persistent watch cursor file format (stable, per spec):
// {"cursors": {"<agent_slug>": <epoch_ms>, ...}, "version": 1}.
type state struct {
	Cursors map[string]int64 `json:"cursors"`
	Version int              `json:"version"`
}

// loadState reads the cursor file at path. A missing file is not an error:
// it means every connector starts from a full (nil-since) scan.
func loadState(path string) (*state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &state{Cursors: map[string]int64{}, Version: stateFileVersion}, nil
		}
		return nil, fmt.Errorf("reading watch state: %w", err)
	}
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing watch state: %w", err)
	}
	if s.Cursors == nil {
		s.Cursors = map[string]int64{}
	}
	return &s, nil
}

// saveState writes the cursor file atomically: marshal, write to a sibling
// temp file, then rename over the destination. A reader never observes a
// partially-written file.
func saveState(path string, s *state) error {
	s.Version = stateFileVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watch state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating watch state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".watch_state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating watch state temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing watch state temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing watch state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming watch state into place: %w", err)
	}
	return nil
}
