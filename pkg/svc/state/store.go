// Package state persists the environment state record under the user's home
// directory and serializes lifecycle operations through an advisory file lock.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
)

const (
	// stateDirName is the directory under the user's home holding all state.
	stateDirName = ".cdp-dev"
	// stateFileName is the persisted environment state record.
	stateFileName = "state.json"
	// lockFileName is the advisory lock serializing lifecycle operations.
	lockFileName = "state.lock"
	// dirPermissions is the permission mode for the state directory.
	dirPermissions = 0o700
	// filePermissions is the permission mode for state files.
	filePermissions = 0o600
)

var (
	// ErrStateCorrupt is returned when the state file exists but cannot be
	// parsed. It is never silently repaired; the destroy path offers a
	// guarded reset.
	ErrStateCorrupt = errors.New("state file is corrupt")

	// ErrConcurrentOperation is returned immediately when another cdp-dev
	// process holds the operation lock.
	ErrConcurrentOperation = errors.New("another cdp-dev operation is already running")
)

// Store reads and writes the environment state record.
type Store struct {
	dir         string
	clusterName string
}

// NewStore creates a Store rooted at ~/.cdp-dev for the given cluster.
func NewStore(clusterName string) (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	return NewStoreAt(filepath.Join(homeDir, stateDirName), clusterName)
}

// NewStoreAt creates a Store rooted at an explicit directory. Used by tests.
func NewStoreAt(dir, clusterName string) (*Store, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	return &Store{dir: dir, clusterName: clusterName}, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// LockPath returns the lock file path.
func (s *Store) LockPath() string {
	return filepath.Join(s.dir, lockFileName)
}

// Load reads the persisted state. A missing file yields the default
// never-installed state. An unreadable or unparsable file yields
// ErrStateCorrupt; it is never silently reset.
func (s *Store) Load() (*v1alpha1.EnvironmentState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v1alpha1.NewEnvironmentState(s.clusterName), nil
		}

		return nil, fmt.Errorf("%w: %w", ErrStateCorrupt, err)
	}

	var environmentState v1alpha1.EnvironmentState

	unmarshalErr := json.Unmarshal(data, &environmentState)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateCorrupt, unmarshalErr)
	}

	if environmentState.Kind != v1alpha1.EnvironmentStateKind {
		return nil, fmt.Errorf(
			"%w: unexpected kind %q", ErrStateCorrupt, environmentState.Kind,
		)
	}

	if environmentState.PortForwards == nil {
		environmentState.PortForwards = map[string]v1alpha1.PortForwardRecord{}
	}

	return &environmentState, nil
}

// Save atomically persists the state: the record is written to a temp file in
// the same directory, fsynced, then renamed over the previous file. Readers
// observe either the old or the new record, never a torn write.
func (s *Store) Save(environmentState *v1alpha1.EnvironmentState) error {
	data, err := json.MarshalIndent(environmentState, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal environment state: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	tmpPath := tmpFile.Name()

	writeErr := writeAndSync(tmpFile, data)
	if writeErr != nil {
		_ = os.Remove(tmpPath)

		return writeErr
	}

	chmodErr := os.Chmod(tmpPath, filePermissions)
	if chmodErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to set state file permissions: %w", chmodErr)
	}

	renameErr := os.Rename(tmpPath, s.Path())
	if renameErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to replace state file: %w", renameErr)
	}

	return nil
}

// Reset removes the persisted state, returning the environment to the
// never-installed default. Used by destroy and the guarded corrupt-state
// recovery.
func (s *Store) Reset() error {
	err := os.Remove(s.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}

	return nil
}

func writeAndSync(file *os.File, data []byte) error {
	defer func() { _ = file.Close() }()

	_, err := file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	syncErr := file.Sync()
	if syncErr != nil {
		return fmt.Errorf("failed to sync temp state file: %w", syncErr)
	}

	return nil
}
