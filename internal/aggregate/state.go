package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// StateStore remembers the timestamp of the last event folded into metrics.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, ts uint64) error
}

// FileStateStore keeps the resume point in a small JSON document. A nil store
// or an empty Path disables persistence.
type FileStateStore struct {
	Path string
}

type fileState struct {
	Through uint64    `json:"through_ts"`
	SavedAt time.Time `json:"saved_at"`
}

func (s *FileStateStore) Load(context.Context) (uint64, bool, error) {
	if s == nil || s.Path == "" {
		return 0, false, nil
	}
	raw, err := os.ReadFile(s.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read aggregate state %s: %w", s.Path, err)
	}

	var st fileState
	if err := json.Unmarshal(raw, &st); err != nil {
		return 0, false, fmt.Errorf("decode aggregate state %s: %w", s.Path, err)
	}
	return st.Through, true, nil
}

func (s *FileStateStore) Save(_ context.Context, ts uint64) error {
	if s == nil || s.Path == "" {
		return nil
	}
	raw, err := json.Marshal(fileState{Through: ts, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("aggregate state dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".aggregate-state-*")
	if err != nil {
		return fmt.Errorf("aggregate state temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("write aggregate state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close aggregate state: %w", err)
	}
	return os.Rename(f.Name(), s.Path)
}

// NamedStateBackend is satisfied by *postgres.Store.
type NamedStateBackend interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, ts uint64) error
}

// DBStateStore keys the resume point by Name so aggregators with different
// windows do not share progress.
type DBStateStore struct {
	Backend NamedStateBackend
	Name    string
}

func (s *DBStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Backend == nil {
		return 0, false, nil
	}
	return s.Backend.LoadState(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, ts uint64) error {
	if s == nil || s.Backend == nil {
		return nil
	}
	return s.Backend.SaveState(ctx, s.Name, ts)
}
