package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const stateFileName = "state.json"

// fileState represents the state file on disk.
type fileState struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// FileStore persists state as a JSON file in a local directory.
// It survives restarts of the same user profile and is not shared across machines.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates a new file store.
// If baseDir is empty, uses ~/.testdash/
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".testdash")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &FileStore{baseDir: baseDir}

	if err := s.ensureState(); err != nil {
		return nil, err
	}

	log.Debug().Str("baseDir", baseDir).Msg("state store initialized")

	return s, nil
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.baseDir, stateFileName)
}

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return "", err
	}

	v, ok := st.Values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}

	st.Values[key] = value
	return s.save(st)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := st.Values[key]; !ok {
		return nil
	}

	delete(st.Values, key)
	return s.save(st)
}

// Watch calls fn for every key whose value is changed by another writer of the
// state file, until ctx is cancelled. Removed keys are reported with "".
func (s *FileStore) Watch(ctx context.Context, fn func(key, value string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic renames replace the file inode.
	if err := watcher.Add(s.baseDir); err != nil {
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	last, err := s.snapshot()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != stateFileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			current, err := s.snapshot()
			if err != nil {
				log.Warn().Err(err).Msg("failed to reload state after change")
				continue
			}

			for k, v := range current {
				if old, ok := last[k]; !ok || old != v {
					fn(k, v)
				}
			}
			for k := range last {
				if _, ok := current[k]; !ok {
					fn(k, "")
				}
			}
			last = current
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("state watcher error")
		}
	}
}

func (s *FileStore) snapshot() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return maps.Clone(st.Values), nil
}

// ensureState creates an empty state file if it doesn't exist.
func (s *FileStore) ensureState() error {
	if _, err := os.Stat(s.Path()); err == nil {
		return nil
	}

	return s.save(&fileState{
		Version: 1,
		Values:  make(map[string]string),
	})
}

// load reads the state file.
func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{Version: 1, Values: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}

	if st.Values == nil {
		st.Values = make(map[string]string)
	}

	return &st, nil
}

// save writes the state file atomically.
func (s *FileStore) save(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// unique name per writer, other processes may share the directory
	tmp, err := os.CreateTemp(s.baseDir, "state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := os.Rename(tempPath, s.Path()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}
