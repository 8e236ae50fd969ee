package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type snapshot struct {
	Phase    string    `json:"phase"`
	Hostname string    `json:"hostname"`
	ExitedAt time.Time `json:"exitedAt"`
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox-state.json")
	in := &snapshot{
		Phase:    "running",
		Hostname: "pod-host",
		ExitedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := Write(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := Read[snapshot](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if *out != *in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox-state.json")
	if err := Write(path, &snapshot{Phase: "created"}); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, &snapshot{Phase: "stopped"}); err != nil {
		t.Fatal(err)
	}
	out, err := Read[snapshot](path)
	if err != nil {
		t.Fatal(err)
	}
	if out.Phase != "stopped" {
		t.Errorf("phase = %q, want stopped", out.Phase)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read[snapshot](filepath.Join(t.TempDir(), "absent.json"))
	if !os.IsNotExist(err) {
		t.Errorf("got %v, want not-exist", err)
	}
}

func TestReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Read[snapshot](path); err == nil {
		t.Error("expected error")
	}
}
