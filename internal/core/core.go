// Package core defines the capability contract a sandbox backend must
// satisfy to service decoded commands. Backends are selected at
// construction time; nothing in this package enumerates them.
package core

import (
	"context"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// SandboxNetworkEnv describes the network namespace handed to a sandbox.
type SandboxNetworkEnv struct {
	// Netns is the namespace path, empty when the sandbox should build
	// its own.
	Netns string
	// NetworkCreated is true when the namespace was freshly created for
	// this sandbox rather than pre-existing.
	NetworkCreated bool
}

// CreateOpt is the normalized argument bundle for sandbox creation.
type CreateOpt struct {
	Hostname    string
	DNS         []string
	NetworkEnv  SandboxNetworkEnv
	Annotations map[string]string
}

// SandboxStatus is a point-in-time snapshot. Zero values are valid: a
// status query must succeed even before the sandbox was created.
type SandboxStatus struct {
	SandboxID string
	Pid       uint32
	State     string
	Info      map[string]string
	CreatedAt time.Time
	ExitedAt  time.Time
}

// ResizeVolumeRequest asks a directly-attached volume to grow.
type ResizeVolumeRequest struct {
	VolumePath string
	Size       uint64
}

// Sandbox is the lifecycle contract for a sandbox backend. Lifecycle
// transitions on one instance are serialized by the implementation;
// read-only calls (Status, GetIPTables) must be safe at any time,
// including concurrently with a pending Wait.
type Sandbox interface {
	// Create provisions the sandbox. On error no partial state may be
	// reachable by later calls.
	Create(ctx context.Context, opt *CreateOpt) error
	// Start transitions a created sandbox to running.
	Start(ctx context.Context) error
	// Run creates and starts a workload in one shot for callers that do
	// not separate create/start, described by an OCI spec/state pair.
	Run(ctx context.Context, dns []string, spec *specs.Spec, state *specs.State, env SandboxNetworkEnv) error
	// Status returns a snapshot, best-effort before creation.
	Status(ctx context.Context) (SandboxStatus, error)
	// Wait blocks until the sandbox's primary workload exits. It returns
	// promptly for an already-exited sandbox.
	Wait(ctx context.Context) error
	// Stop requests termination within timeout. Calling Stop on an
	// already-stopped sandbox is not an error.
	Stop(ctx context.Context, timeout time.Duration) error
	// Cleanup releases resources after Stop. It is separate so callers
	// can keep introspecting a just-terminated sandbox until they are
	// done with it.
	Cleanup(ctx context.Context) error
	// Shutdown tears down sandbox-level infrastructure entirely.
	Shutdown(ctx context.Context) error

	SetIPTables(ctx context.Context, isIPv6 bool, data []byte) ([]byte, error)
	GetIPTables(ctx context.Context, isIPv6 bool) ([]byte, error)
	DirectVolumeStats(ctx context.Context, volumePath string) (string, error)
	DirectVolumeResize(ctx context.Context, req ResizeVolumeRequest) error
	// AgentSock returns the address of the in-sandbox control channel for
	// collaborators that need a direct channel.
	AgentSock(ctx context.Context) (string, error)
}
