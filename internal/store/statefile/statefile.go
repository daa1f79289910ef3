// Package statefile persists the registry state as a JSON document on local
// disk. Writes go through a temp file and rename so a crash mid-save never
// leaves a truncated state behind.
package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// Store reads and writes a single JSON state file.
type Store struct {
	path   string
	logger *slog.Logger
}

var _ domain.StateStore = (*Store)(nil)

// New returns a store backed by the given path. The parent directory is
// created on first save if it does not exist.
func New(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With(slog.String("component", "statefile")),
	}
}

// Load returns the persisted state, or a fresh empty state when the file does
// not exist yet. A file that exists but cannot be parsed is an error; silently
// starting over would re-ingest history the operator believes is processed.
func (s *Store) Load(_ context.Context) (*domain.State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no state file, starting fresh", slog.String("path", s.path))
			return domain.NewState(), nil
		}
		return nil, fmt.Errorf("statefile: read %s: %w", s.path, err)
	}

	state := domain.NewState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("statefile: parse %s: %w", s.path, err)
	}
	s.logger.Info("state loaded",
		slog.Uint64("height", state.Cursor.Height),
		slog.Int("positions", len(state.Positions)))
	return state, nil
}

// Save atomically replaces the state file.
func (s *Store) Save(_ context.Context, state *domain.State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("statefile: encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statefile: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("statefile: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("statefile: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("statefile: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statefile: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statefile: rename temp file: %w", err)
	}
	return nil
}
