// Package localvm is a process-local core.Sandbox backend. It keeps the
// whole lifecycle in memory, which makes it the development and test
// backend: the state machine and concurrency rules are real, the
// isolation is not.
package localvm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"

	"github.com/virtshim/virtshim/internal/core"
	"github.com/virtshim/virtshim/internal/state"
)

// stateFile is the snapshot left in the bundle directory when
// persistence is enabled.
const stateFile = "sandbox-state.json"

// persistedState is the on-disk snapshot format.
type persistedState struct {
	Phase     string    `json:"phase"`
	Hostname  string    `json:"hostname,omitempty"`
	Netns     string    `json:"netns,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	ExitedAt  time.Time `json:"exitedAt,omitempty"`
}

// phase is the lifecycle phase of the sandbox.
type phase int32

const (
	phaseUncreated phase = iota
	phaseCreated
	phaseRunning
	phaseStopped
	phaseCleaned
)

func (p phase) String() string {
	switch p {
	case phaseUncreated:
		return "uncreated"
	case phaseCreated:
		return "created"
	case phaseRunning:
		return "running"
	case phaseStopped:
		return "stopped"
	case phaseCleaned:
		return "cleaned"
	default:
		return "phase(<invalid>)"
	}
}

// Sandbox implements core.Sandbox. One mutex serializes lifecycle
// transitions; Wait blocks on a channel closed exactly once so that
// read-only calls and concurrent waiters never contend with transitions.
type Sandbox struct {
	id string

	mu        sync.Mutex
	phase     phase
	hostname  string
	netns     string
	createdAt time.Time
	exitedAt  time.Time

	// iptables rules by family, kept verbatim. This backend is a pure
	// conduit for them.
	rules map[bool][]byte

	// statePath, when non-empty, is where lifecycle transitions leave a
	// JSON snapshot for recovery by a restarted shim.
	statePath string

	waitCh   chan struct{}
	waitOnce sync.Once
}

var _ core.Sandbox = (*Sandbox)(nil)

func New(id string) *Sandbox {
	return &Sandbox{
		id:     id,
		rules:  make(map[bool][]byte),
		waitCh: make(chan struct{}),
	}
}

// NewPersistent builds a sandbox that snapshots its state to dir after
// every transition. An existing snapshot is restored, so a shim that
// restarts over a live bundle resumes from the recorded phase.
func NewPersistent(id, dir string) *Sandbox {
	s := New(id)
	s.statePath = filepath.Join(dir, stateFile)
	if saved, err := state.Read[persistedState](s.statePath); err == nil {
		s.restore(saved)
	} else if !os.IsNotExist(err) {
		log.L.WithError(err).WithField("sandboxID", id).Warn("discarding unreadable sandbox state")
	}
	return s
}

func (s *Sandbox) restore(saved *persistedState) {
	for _, p := range []phase{phaseCreated, phaseRunning, phaseStopped, phaseCleaned} {
		if p.String() == saved.Phase {
			s.phase = p
			break
		}
	}
	s.hostname = saved.Hostname
	s.netns = saved.Netns
	s.createdAt = saved.CreatedAt
	s.exitedAt = saved.ExitedAt
	if s.phase == phaseStopped || s.phase == phaseCleaned {
		s.waitOnce.Do(func() { close(s.waitCh) })
	}
}

// persist is called with s.mu held.
func (s *Sandbox) persist(ctx context.Context) {
	if s.statePath == "" {
		return
	}
	err := state.Write(s.statePath, &persistedState{
		Phase:     s.phase.String(),
		Hostname:  s.hostname,
		Netns:     s.netns,
		CreatedAt: s.createdAt,
		ExitedAt:  s.exitedAt,
	})
	if err != nil {
		log.G(ctx).WithError(err).WithField("sandboxID", s.id).Warn("failed to persist sandbox state")
	}
}

func (s *Sandbox) Create(ctx context.Context, opt *core.CreateOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseUncreated {
		return errors.Wrapf(errdefs.ErrFailedPrecondition, "create in phase %s", s.phase)
	}
	s.hostname = opt.Hostname
	s.netns = opt.NetworkEnv.Netns
	s.createdAt = time.Now()
	s.phase = phaseCreated
	s.persist(ctx)
	log.G(ctx).WithField("sandboxID", s.id).Info("sandbox created")
	return nil
}

func (s *Sandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseCreated {
		return errors.Wrapf(errdefs.ErrFailedPrecondition, "start in phase %s", s.phase)
	}
	s.phase = phaseRunning
	s.persist(ctx)
	log.G(ctx).WithField("sandboxID", s.id).Info("sandbox started")
	return nil
}

func (s *Sandbox) Run(ctx context.Context, dns []string, spec *specs.Spec, state *specs.State, env core.SandboxNetworkEnv) error {
	if spec == nil || state == nil {
		return errors.Wrap(errdefs.ErrInvalidArgument, "run requires a spec and a state")
	}
	opt := &core.CreateOpt{
		Hostname:   spec.Hostname,
		DNS:        dns,
		NetworkEnv: env,
	}
	if err := s.Create(ctx, opt); err != nil {
		return err
	}
	return s.Start(ctx)
}

func (s *Sandbox) Status(ctx context.Context) (core.SandboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := core.SandboxStatus{
		SandboxID: s.id,
		State:     s.phase.String(),
		CreatedAt: s.createdAt,
		ExitedAt:  s.exitedAt,
	}
	if s.phase == phaseRunning {
		status.Pid = uint32(os.Getpid())
	}
	if s.hostname != "" || s.netns != "" {
		status.Info = map[string]string{
			"hostname": s.hostname,
			"netns":    s.netns,
		}
	}
	return status, nil
}

func (s *Sandbox) Wait(ctx context.Context) error {
	select {
	case <-s.waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop is idempotent: stopping an already-stopped sandbox succeeds. The
// timeout is accepted for contract parity; tearing down in-memory state
// never takes that long.
func (s *Sandbox) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case phaseStopped, phaseCleaned:
		return nil
	case phaseUncreated:
		return errors.Wrap(errdefs.ErrFailedPrecondition, "stop before create")
	}
	s.phase = phaseStopped
	s.exitedAt = time.Now()
	s.waitOnce.Do(func() { close(s.waitCh) })
	s.persist(ctx)
	log.G(ctx).WithField("sandboxID", s.id).Info("sandbox stopped")
	return nil
}

func (s *Sandbox) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseStopped && s.phase != phaseCleaned {
		return errors.Wrapf(errdefs.ErrFailedPrecondition, "cleanup in phase %s", s.phase)
	}
	s.rules = make(map[bool][]byte)
	s.phase = phaseCleaned
	s.persist(ctx)
	return nil
}

func (s *Sandbox) Shutdown(ctx context.Context) error {
	if err := s.Stop(ctx, 0); err != nil && !errdefs.IsFailedPrecondition(err) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[bool][]byte)
	s.phase = phaseCleaned
	s.persist(ctx)
	log.G(ctx).WithField("sandboxID", s.id).Info("sandbox shut down")
	return nil
}

func (s *Sandbox) SetIPTables(ctx context.Context, isIPv6 bool, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[isIPv6] = append([]byte(nil), data...)
	return s.rules[isIPv6], nil
}

func (s *Sandbox) GetIPTables(ctx context.Context, isIPv6 bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.rules[isIPv6]...), nil
}

func (s *Sandbox) DirectVolumeStats(ctx context.Context, volumePath string) (string, error) {
	fi, err := os.Stat(volumePath)
	if err != nil {
		return "", errors.Wrapf(err, "stat volume %s", volumePath)
	}
	stats, err := json.Marshal(map[string]interface{}{
		"path": volumePath,
		"size": fi.Size(),
	})
	if err != nil {
		return "", err
	}
	return string(stats), nil
}

func (s *Sandbox) DirectVolumeResize(ctx context.Context, req core.ResizeVolumeRequest) error {
	return errors.Wrap(errdefs.ErrNotImplemented, "volume resize on local backend")
}

func (s *Sandbox) AgentSock(ctx context.Context) (string, error) {
	return fmt.Sprintf("unix:///run/virtshim/%s/agent.sock", s.id), nil
}
