// Package state persists small JSON snapshots to disk. The shim uses it
// to leave a recoverable record of sandbox state in the bundle directory
// so a restarted process can pick up where the previous one stopped.
package state

import (
	"encoding/json"
	"os"

	"github.com/containerd/containerd/v2/pkg/atomicfile"
)

// Write marshals state and replaces path atomically, so a reader never
// observes a half-written snapshot.
func Write[T any](path string, state *T) error {
	j, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f, err := atomicfile.New(path, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(j); err != nil {
		_ = f.Cancel()
		return err
	}
	return f.Close()
}

// Read loads a snapshot written by Write. A missing file surfaces as the
// os.ErrNotExist it is; callers decide whether that is fresh start or
// corruption.
func Read[T any](path string) (*T, error) {
	v := new(T)
	j, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(j, v); err != nil {
		return nil, err
	}
	return v, nil
}
