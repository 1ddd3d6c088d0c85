// ABOUTME: YAML-backed preferences store
// ABOUTME: Persists integer settings such as the active transport between runs
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// State is a playback.Preferences saved to a YAML file on every change
type State struct {
	path string

	mu     sync.Mutex
	values map[string]int
}

// OpenState loads path, starting empty when it does not exist
func OpenState(path string) (*State, error) {
	s := &State{path: path, values: make(map[string]int)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]int)
	}
	return s, nil
}

// Int returns the value for key or def
func (s *State) Int(key string, def int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// SetInt stores value and writes the file
func (s *State) SetInt(key string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return s.save()
}

// save writes through a temp file so a crash never leaves a partial state
func (s *State) save() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	log.Debug().Str("path", s.path).Msg("state saved")
	return nil
}
