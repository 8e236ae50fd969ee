// Package runtimes executes decoded task commands against an in-memory
// container table. It is the single consumer of command.TaskRequest: the
// switch in Handle is exhaustive, so a new wire call cannot be added
// without deciding what this layer does with it.
package runtimes

import (
	"context"
	"os"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/virtshim/virtshim/internal/command"
)

// Manager owns the container/process table. Every mutation happens under
// one lock; Wait blocks outside it so lifecycle calls stay responsive
// while waiters are parked.
type Manager struct {
	mu         sync.Mutex
	containers map[string]*container
	nextPid    uint32
}

func NewManager() *Manager {
	return &Manager{
		containers: make(map[string]*container),
		nextPid:    1000,
	}
}

// Handle runs one decoded command to completion and returns the matching
// response variant. Errors pass through untouched: retry policy belongs
// to the caller.
func (m *Manager) Handle(ctx context.Context, req command.TaskRequest) (command.TaskResponse, error) {
	switch r := req.(type) {
	case command.CreateContainer:
		return m.createContainer(ctx, r.Config)
	case command.CloseProcessIO:
		return m.closeIO(r.Process)
	case command.DeleteProcess:
		return m.deleteProcess(r.Process)
	case command.ExecProcess:
		return m.execProcess(r.Request)
	case command.KillProcess:
		return m.killProcess(ctx, r.Request)
	case command.WaitProcess:
		return m.waitProcess(ctx, r.Process)
	case command.StartProcess:
		return m.startProcess(ctx, r.Process)
	case command.StateProcess:
		return m.stateProcess(r.Process)
	case command.ShutdownContainer:
		return m.shutdownContainer(ctx, r.Request)
	case command.ResizeProcessPTY:
		return m.resizePTY(r.Request)
	case command.PauseContainer:
		return m.pauseContainer(r.Container)
	case command.ResumeContainer:
		return m.resumeContainer(r.Container)
	case command.StatsContainer:
		return m.statsContainer(r.Container)
	case command.UpdateContainer:
		return m.updateContainer(r.Request)
	case command.PidRequest:
		return command.PidResult{Pid: uint32(os.Getpid())}, nil
	case command.ConnectContainer:
		return m.connectContainer(r.Container)
	default:
		return nil, errors.Wrapf(errdefs.ErrNotImplemented, "task request %T", req)
	}
}

func (m *Manager) createContainer(ctx context.Context, cfg command.ContainerConfig) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[cfg.ContainerID]; ok {
		return nil, errors.Wrapf(errdefs.ErrAlreadyExists, "container %s", cfg.ContainerID)
	}
	m.containers[cfg.ContainerID] = &container{
		config: cfg,
		init:   newProcState(cfg.ContainerID, "", cfg.Bundle, cfg.Stdin, cfg.Stdout, cfg.Stderr, cfg.Terminal),
		execs:  make(map[string]*execProc),
	}
	log.G(ctx).WithField("containerID", cfg.ContainerID).Info("container created")
	return command.CreateContainerResult{Pid: 0}, nil
}

func (m *Manager) execProcess(req command.ExecProcessRequest) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[req.Process.Container.ID]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", req.Process.Container.ID)
	}
	if _, ok := c.execs[req.Process.ExecID]; ok {
		return nil, errors.Wrapf(errdefs.ErrAlreadyExists, "exec %s", req.Process.ExecID)
	}
	c.execs[req.Process.ExecID] = &execProc{
		procState: newProcState(req.Process.Container.ID, req.Process.ExecID,
			c.config.Bundle, req.Stdin, req.Stdout, req.Stderr, req.Terminal),
		specTypeURL: req.SpecTypeURL,
		specValue:   req.SpecValue,
	}
	return command.ExecProcessResult{}, nil
}

func (m *Manager) startProcess(ctx context.Context, p command.ContainerProcess) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, err := m.get(p)
	if err != nil {
		return nil, err
	}
	if proc.status != command.StatusCreated {
		return nil, errors.Wrapf(errdefs.ErrFailedPrecondition, "start in state %s", proc.status)
	}
	m.nextPid++
	proc.setStarted(m.nextPid)
	log.G(ctx).WithField("containerID", p.Container.ID).WithField("execID", p.ExecID).Info("process started")
	return command.StartProcessResult{Pid: proc.pid}, nil
}

func (m *Manager) waitProcess(ctx context.Context, p command.ContainerProcess) (command.TaskResponse, error) {
	m.mu.Lock()
	proc, err := m.get(p)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case <-proc.waitCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return command.WaitProcessResult{Exit: proc.exitStatusInfo()}, nil
}

func (m *Manager) killProcess(ctx context.Context, req command.KillRequest) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[req.Process.Container.ID]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", req.Process.Container.ID)
	}
	exitCode := 128 + req.Signal
	if req.All {
		for _, e := range c.execs {
			if !e.exited() {
				e.setExited(exitCode)
			}
		}
		if !c.init.exited() {
			c.init.setExited(exitCode)
		}
		return command.KillProcessResult{}, nil
	}
	proc, err := m.get(req.Process)
	if err != nil {
		return nil, err
	}
	if !proc.exited() {
		proc.setExited(exitCode)
	}
	log.G(ctx).WithField("containerID", req.Process.Container.ID).
		WithField("signal", req.Signal).Info("process killed")
	return command.KillProcessResult{}, nil
}

func (m *Manager) deleteProcess(p command.ContainerProcess) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, err := m.get(p)
	if err != nil {
		return nil, err
	}
	state := proc.stateInfo()
	if p.ExecID != "" {
		delete(m.containers[p.Container.ID].execs, p.ExecID)
	} else {
		delete(m.containers, p.Container.ID)
	}
	return command.DeleteProcessResult{State: state}, nil
}

func (m *Manager) stateProcess(p command.ContainerProcess) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, err := m.get(p)
	if err != nil {
		return nil, err
	}
	return command.StateProcessResult{State: proc.stateInfo()}, nil
}

func (m *Manager) closeIO(p command.ContainerProcess) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(p); err != nil {
		return nil, err
	}
	return command.CloseProcessIOResult{}, nil
}

func (m *Manager) resizePTY(req command.ResizePTYRequest) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, err := m.get(req.Process)
	if err != nil {
		return nil, err
	}
	if !proc.terminal {
		return nil, errors.Wrap(errdefs.ErrFailedPrecondition, "process has no terminal")
	}
	return command.ResizePTYResult{}, nil
}

func (m *Manager) pauseContainer(id command.ContainerID) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id.ID]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id.ID)
	}
	if c.init.status != command.StatusRunning {
		return nil, errors.Wrapf(errdefs.ErrFailedPrecondition, "pause in state %s", c.init.status)
	}
	c.init.status = command.StatusPaused
	return command.PauseResult{}, nil
}

func (m *Manager) resumeContainer(id command.ContainerID) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id.ID]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id.ID)
	}
	if c.init.status != command.StatusPaused {
		return nil, errors.Wrapf(errdefs.ErrFailedPrecondition, "resume in state %s", c.init.status)
	}
	c.init.status = command.StatusRunning
	return command.ResumeResult{}, nil
}

func (m *Manager) statsContainer(id command.ContainerID) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[id.ID]; !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id.ID)
	}
	// This backend produces no cgroup metrics; the stats payload stays
	// absent rather than fabricated.
	return command.StatsResult{}, nil
}

func (m *Manager) updateContainer(req command.UpdateRequest) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[req.ContainerID]; !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", req.ContainerID)
	}
	return command.UpdateResult{}, nil
}

func (m *Manager) shutdownContainer(ctx context.Context, req command.ShutdownRequest) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[req.ContainerID]
	if ok {
		for _, e := range c.execs {
			if !e.exited() {
				e.setExited(137)
			}
		}
		if !c.init.exited() {
			c.init.setExited(137)
		}
		delete(m.containers, req.ContainerID)
	}
	log.G(ctx).WithField("containerID", req.ContainerID).
		WithField("now", req.IsNow).Info("container shut down")
	return command.ShutdownResult{}, nil
}

func (m *Manager) connectContainer(id command.ContainerID) (command.TaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[id.ID]; !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id.ID)
	}
	return command.ConnectResult{Pid: uint32(os.Getpid())}, nil
}

// get resolves a process identity to its state. Callers hold m.mu.
func (m *Manager) get(p command.ContainerProcess) (*procState, error) {
	c, ok := m.containers[p.Container.ID]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", p.Container.ID)
	}
	if p.ExecID == "" {
		return c.init, nil
	}
	e, ok := c.execs[p.ExecID]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "exec %s", p.ExecID)
	}
	return e.procState, nil
}
