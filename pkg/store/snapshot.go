package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/state"
)

// Snapshot is the persisted form of a state.
type Snapshot struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	State   json.RawMessage `json:"state"`
}

// NewSnapshot encodes s as a snapshot saved at now.
func NewSnapshot(s state.State, now time.Time) (Snapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: s.Version, SavedAt: now.UTC(), State: data}, nil
}

// Migrator turns a persisted snapshot into a valid state of
// state.CurrentVersion.
type Migrator interface {
	Migrate(snap Snapshot) (state.State, error)
}

// MigratorFunc adapts a function to the Migrator interface.
type MigratorFunc func(snap Snapshot) (state.State, error)

func (f MigratorFunc) Migrate(snap Snapshot) (state.State, error) {
	return f(snap)
}

// StrictMigrator accepts only snapshots of state.CurrentVersion. Anything
// else fails with E060; a snapshot that does not decode to a valid state
// fails with E061.
type StrictMigrator struct{}

func (StrictMigrator) Migrate(snap Snapshot) (state.State, error) {
	if snap.Version != state.CurrentVersion {
		return state.State{}, errors.New(errors.CodeSnapshotVersion).
			WithDetailf("snapshot version %d, this build reads version %d", snap.Version, state.CurrentVersion)
	}
	s, err := state.Decode(snap.State)
	if err != nil {
		return state.State{}, errors.New(errors.CodeSnapshotCorrupt).Wrap(err)
	}
	if s.Version != snap.Version {
		return state.State{}, errors.New(errors.CodeSnapshotCorrupt).
			WithDetailf("snapshot header says version %d, state says %d", snap.Version, s.Version)
	}
	return s, nil
}

// SaveState encodes s and saves it under key.
func SaveState(ctx context.Context, st Store, key string, s state.State, now time.Time) error {
	snap, err := NewSnapshot(s, now)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := st.Save(ctx, key, data); err != nil {
		return errors.New(errors.CodeStoreUnavailable).Wrap(err)
	}
	return nil
}

// LoadSnapshot loads the raw snapshot saved under key. ok is false if
// nothing was saved.
func LoadSnapshot(ctx context.Context, st Store, key string) (snap Snapshot, ok bool, err error) {
	data, err := st.Load(ctx, key)
	if err != nil {
		return Snapshot{}, false, errors.New(errors.CodeStoreUnavailable).Wrap(err)
	}
	if data == nil {
		return Snapshot{}, false, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, errors.New(errors.CodeSnapshotCorrupt).Wrap(err)
	}
	return snap, true, nil
}

// LoadState loads the snapshot saved under key and migrates it. ok is false
// if nothing was saved.
func LoadState(ctx context.Context, st Store, key string, m Migrator) (state.State, bool, error) {
	snap, ok, err := LoadSnapshot(ctx, st, key)
	if err != nil || !ok {
		return state.State{}, false, err
	}
	s, err := m.Migrate(snap)
	if err != nil {
		return state.State{}, false, err
	}
	return s, true, nil
}
