// Package store persists the small amount of client state that
// survives restarts: whether a wallet was previously connected (drives
// silent reconnect on startup) and the recent metrics history.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	schemaVersion = 1
	stateFile     = "state.json"
)

// Sample is one persisted metrics observation.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	Label       string    `json:"label"`
	TotalSupply string    `json:"totalSupply"`
	TotalStaked string    `json:"totalStaked"`
	Ratio       string    `json:"ratio"`
}

type stateDoc struct {
	Schema              int      `json:"schema"`
	PreviouslyConnected bool     `json:"previouslyConnected"`
	Samples             []Sample `json:"samples,omitempty"`
}

// Store is the on-disk client state. All methods are safe for
// concurrent use; every mutation is written through immediately.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
	doc  stateDoc
}

// Open loads state from dataDir (default ~/.config/hayq-dashboard). A
// missing file yields empty state; an unreadable or future-schema file
// is logged and replaced rather than failing startup.
func Open(dataDir string, log *zap.Logger) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".config", "hayq-dashboard")
	}

	s := &Store{
		path: filepath.Join(dataDir, stateFile),
		log:  log,
		doc:  stateDoc{Schema: schemaVersion},
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var doc stateDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Schema > schemaVersion {
		log.Warn("discarding unreadable state file", zap.String("path", s.path), zap.Error(err))
		return s, nil
	}
	doc.Schema = schemaVersion
	s.doc = doc
	return s, nil
}

// PreviouslyConnected reports whether a wallet session was active when
// the client last shut down.
func (s *Store) PreviouslyConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.PreviouslyConnected
}

// SetPreviouslyConnected records the connection flag.
func (s *Store) SetPreviouslyConnected(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.PreviouslyConnected == v {
		return nil
	}
	s.doc.PreviouslyConnected = v
	return s.persistLocked()
}

// Samples returns the persisted metrics history.
func (s *Store) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.doc.Samples...)
}

// SaveSamples replaces the persisted metrics history.
func (s *Store) SaveSamples(samples []Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Samples = append([]Sample(nil), samples...)
	return s.persistLocked()
}

// ClearSamples drops the persisted metrics history.
func (s *Store) ClearSamples() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Samples = nil
	return s.persistLocked()
}

// Path returns the backing file location, for logs.
func (s *Store) Path() string { return s.path }

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return atomicWriteFile(s.path, data, 0o600)
}

// atomicWriteFile writes via a temp file in the target directory and
// renames it into place so readers never observe a partial state file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
