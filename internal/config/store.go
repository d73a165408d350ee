package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	storeFileName = "config.json"
	lockFileName  = ".config.lock"
)

// Operating modes. An owner indexes a source; a connected user only searches.
const (
	ModeOwner     = "owner"
	ModeConnected = "connected"
)

var (
	// ErrNotConfigured is returned when required settings are missing.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidStore is returned when the settings file cannot be parsed.
	ErrInvalidStore = errors.New("invalid configuration file")
)

// Connection names the indexes a connected user searches.
type Connection struct {
	DenseIndexName  string    `json:"dense_index_name"`
	SparseIndexName string    `json:"sparse_index_name"`
	CreatedAt       time.Time `json:"created_at"`
}

// Owner holds the state of an owner who indexes a source directory.
type Owner struct {
	SourceRoot        string     `json:"source_root"`
	DenseIndexName    string     `json:"dense_index_name"`
	SparseIndexName   string     `json:"sparse_index_name"`
	LastRefreshTime   *time.Time `json:"last_refresh_time,omitempty"`
	TotalFilesIndexed int        `json:"total_files_indexed"`
}

// Settings are tunables shared by both modes.
type Settings struct {
	RerankingModel string `json:"reranking_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
}

// State is the content of the settings file.
type State struct {
	Mode       string      `json:"mode"`
	Connection *Connection `json:"connection,omitempty"`
	Owner      *Owner      `json:"owner,omitempty"`
	Settings   Settings    `json:"settings"`
}

// DefaultState returns the state used before anything is configured.
func DefaultState() *State {
	return &State{
		Mode: ModeConnected,
		Settings: Settings{
			RerankingModel: "pinecone-rerank-v0",
			ChunkSize:      450,
			ChunkOverlap:   75,
		},
	}
}

// IsOwner reports whether the state is in owner mode.
func (s *State) IsOwner() bool { return s.Mode == ModeOwner }

// IndexNames returns the configured dense and sparse index names.
func (s *State) IndexNames() (dense, sparse string, err error) {
	switch {
	case s.IsOwner() && s.Owner != nil:
		dense, sparse = s.Owner.DenseIndexName, s.Owner.SparseIndexName
	case s.Connection != nil:
		dense, sparse = s.Connection.DenseIndexName, s.Connection.SparseIndexName
	case s.Owner != nil:
		dense, sparse = s.Owner.DenseIndexName, s.Owner.SparseIndexName
	}
	if dense == "" {
		return "", "", fmt.Errorf("%w: dense index name", ErrNotConfigured)
	}
	if sparse == "" {
		return "", "", fmt.Errorf("%w: sparse index name", ErrNotConfigured)
	}
	return dense, sparse, nil
}

// Validate checks that the index names are set, and in owner mode that a
// source root is configured.
func (s *State) Validate() error {
	if _, _, err := s.IndexNames(); err != nil {
		return err
	}
	if s.IsOwner() && (s.Owner == nil || s.Owner.SourceRoot == "") {
		return fmt.Errorf("%w: source root for owner mode", ErrNotConfigured)
	}
	return nil
}

// SetConnection switches to connected mode.
func (s *State) SetConnection(dense, sparse string, now time.Time) {
	s.Mode = ModeConnected
	s.Connection = &Connection{DenseIndexName: dense, SparseIndexName: sparse, CreatedAt: now}
}

// SetOwner switches to owner mode, resetting the refresh state.
func (s *State) SetOwner(root, dense, sparse string) {
	s.Mode = ModeOwner
	s.Owner = &Owner{SourceRoot: root, DenseIndexName: dense, SparseIndexName: sparse}
}

// ApplyEnv overlays environment overrides from cfg. The result is not
// meant to be saved.
func (s *State) ApplyEnv(cfg *Config) {
	if cfg.RerankingModel != "" {
		s.Settings.RerankingModel = cfg.RerankingModel
	}
	if cfg.ChunkSize > 0 {
		s.Settings.ChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlap > 0 {
		s.Settings.ChunkOverlap = cfg.ChunkOverlap
	}
	if cfg.DenseIndexName == "" && cfg.SparseIndexName == "" {
		return
	}
	dense, sparse, _ := s.IndexNames()
	if cfg.DenseIndexName != "" {
		dense = cfg.DenseIndexName
	}
	if cfg.SparseIndexName != "" {
		sparse = cfg.SparseIndexName
	}
	if s.IsOwner() && s.Owner != nil {
		s.Owner.DenseIndexName, s.Owner.SparseIndexName = dense, sparse
		return
	}
	if s.Connection == nil {
		s.Connection = &Connection{}
	}
	s.Connection.DenseIndexName, s.Connection.SparseIndexName = dense, sparse
}

// Store persists State as JSON. Updates hold a cross-process file lock.
type Store struct {
	dir  string
	lock *flock.Flock
}

// DefaultDir returns ~/.config/docsearch.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "docsearch"), nil
}

// NewStore creates a store in dir, or DefaultDir when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Store{dir: dir, lock: flock.New(filepath.Join(dir, lockFileName))}, nil
}

// Path returns the settings file path.
func (s *Store) Path() string { return filepath.Join(s.dir, storeFileName) }

// Load reads the settings file. A missing file yields DefaultState.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path(), err)
	}

	st := DefaultState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	return st, nil
}

// Update loads the state under the lock, applies fn and saves the result.
// Nothing is written when fn returns an error.
func (s *Store) Update(fn func(*State) error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	st, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(st)
}

func (s *Store) write(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, storeFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
