package command

import (
	"testing"

	"github.com/containerd/containerd/api/types"
)

func TestMountFromProto(t *testing.T) {
	cases := []struct {
		name     string
		options  []string
		readOnly bool
	}{
		{name: "no options", options: nil, readOnly: false},
		{name: "rw options only", options: []string{"rbind", "rw"}, readOnly: false},
		{name: "ro first", options: []string{"ro", "rbind"}, readOnly: true},
		{name: "ro last", options: []string{"rbind", "ro"}, readOnly: true},
		{name: "ro as substring does not count", options: []string{"rootcontext=x"}, readOnly: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := MountFromProto(&types.Mount{
				Type:    "bind",
				Source:  "/src",
				Target:  "/dst",
				Options: tc.options,
			})
			if m.ReadOnly != tc.readOnly {
				t.Errorf("ReadOnly = %v, want %v (options %v)", m.ReadOnly, tc.readOnly, tc.options)
			}
			if m.Source != "/src" || m.Destination != "/dst" || m.Type != "bind" {
				t.Errorf("fields not carried: %+v", m)
			}
		})
	}
}
