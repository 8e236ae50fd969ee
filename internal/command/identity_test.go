package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
)

func TestNewContainerID_VariousCases(t *testing.T) {
	cases := []struct {
		name      string
		id        string
		expectErr bool
	}{
		{name: "simple", id: "c1"},
		{name: "all allowed characters", id: "a9_Z.x-y"},
		{name: "max length", id: strings.Repeat("a", 64)},
		{name: "empty", id: "", expectErr: true},
		{name: "too long", id: strings.Repeat("a", 65), expectErr: true},
		{name: "leading underscore", id: "_c1", expectErr: true},
		{name: "leading dash", id: "-c1", expectErr: true},
		{name: "slash", id: "c/1", expectErr: true},
		{name: "space", id: "c 1", expectErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cid, err := NewContainerID(tc.id)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error for id %q", tc.id)
				}
				if !errors.Is(err, errdefs.ErrInvalidArgument) {
					t.Errorf("error %v should unwrap to ErrInvalidArgument", err)
				}
				var ie *InvalidIdentityError
				if !errors.As(err, &ie) {
					t.Errorf("error %v is not an InvalidIdentityError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cid.ID != tc.id {
				t.Errorf("got id %q, want %q", cid.ID, tc.id)
			}
		})
	}
}

func TestNewContainerProcess(t *testing.T) {
	t.Run("empty exec id is the init process", func(t *testing.T) {
		p, err := NewContainerProcess("c1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Container.ID != "c1" || p.ExecID != "" {
			t.Errorf("got %+v", p)
		}
	})

	t.Run("valid exec id", func(t *testing.T) {
		p, err := NewContainerProcess("c1", "e1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.ExecID != "e1" {
			t.Errorf("got exec id %q, want e1", p.ExecID)
		}
	})

	t.Run("invalid exec id", func(t *testing.T) {
		if _, err := NewContainerProcess("c1", "!bad"); err == nil {
			t.Fatal("expected error for invalid exec id")
		} else if !errors.Is(err, errdefs.ErrInvalidArgument) {
			t.Errorf("error %v should unwrap to ErrInvalidArgument", err)
		}
	})

	t.Run("invalid container id rejected before exec id", func(t *testing.T) {
		if _, err := NewContainerProcess("", "e1"); err == nil {
			t.Fatal("expected error for empty container id")
		}
	})
}
