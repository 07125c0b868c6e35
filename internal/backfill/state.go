package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// DefaultStatePath is where import progress is kept between runs.
const DefaultStatePath = "~/.scribe/backfill-state.json"

// State tracks progress so an interrupted import resumes where it stopped.
type State struct {
	StartedAt            time.Time `json:"started_at"`
	LastSavedAt          time.Time `json:"last_saved_at"`
	FilesImported        []string  `json:"files_imported"`
	ConversationsCreated int       `json:"conversations_created"`
	EntriesImported      int       `json:"entries_imported"`
	Errors               []string  `json:"errors"`

	path string
}

// LoadState reads the state at path, or starts a fresh one when none exists.
func LoadState(path string) (*State, error) {
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{StartedAt: time.Now().UTC(), path: p}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

func (s *State) Save() error {
	s.LastSavedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *State) Imported(path string) bool {
	return slices.Contains(s.FilesImported, path)
}

func (s *State) MarkImported(path string) {
	s.FilesImported = append(s.FilesImported, path)
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
