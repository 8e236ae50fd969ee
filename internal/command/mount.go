package command

import (
	"github.com/containerd/containerd/api/types"
)

// Mount is the internal filesystem mount descriptor. DeviceID and
// HostSharedFSPath are populated by the volume layer, not here.
type Mount struct {
	Source      string
	Destination string
	Type        string
	Options     []string
	DeviceID    string
	// HostSharedFSPath is the host-side path when the mount is backed by
	// the shared filesystem.
	HostSharedFSPath string
	ReadOnly         bool
}

// MountFromProto normalizes a wire mount. ReadOnly is derived from the
// presence of the literal "ro" option; options are carried verbatim.
// Total over well-formed input, no path validation happens here.
func MountFromProto(m *types.Mount) Mount {
	options := append([]string(nil), m.Options...)
	readOnly := false
	for _, o := range options {
		if o == "ro" {
			readOnly = true
			break
		}
	}
	return Mount{
		Source:      m.Source,
		Destination: m.Target,
		Type:        m.Type,
		Options:     options,
		ReadOnly:    readOnly,
	}
}

func mountsFromProto(in []*types.Mount) []Mount {
	if len(in) == 0 {
		return nil
	}
	out := make([]Mount, 0, len(in))
	for _, m := range in {
		out = append(out, MountFromProto(m))
	}
	return out
}
