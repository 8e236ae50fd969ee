package runtimes

import (
	"time"

	"github.com/virtshim/virtshim/internal/command"
)

// procState tracks one process (a container's init process or an exec)
// from creation to exit. Mutations go through setStarted/setExited while
// the manager lock is held; snapshots are taken with stateInfo.
type procState struct {
	containerID string
	execID      string
	bundle      string
	stdin       *string
	stdout      *string
	stderr      *string
	terminal    bool
	pid         uint32
	status      command.ProcessStatus
	exitStatus  uint32
	exitedAt    time.Time
	waitCh      chan struct{}
}

func newProcState(containerID, execID, bundle string, stdin, stdout, stderr *string, terminal bool) *procState {
	return &procState{
		containerID: containerID,
		execID:      execID,
		bundle:      bundle,
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
		terminal:    terminal,
		status:      command.StatusCreated,
		waitCh:      make(chan struct{}),
	}
}

func (p *procState) setStarted(pid uint32) {
	p.pid = pid
	p.status = command.StatusRunning
}

func (p *procState) setExited(code uint32) {
	p.exitStatus = code
	p.exitedAt = time.Now()
	p.status = command.StatusExited
	close(p.waitCh)
}

func (p *procState) exited() bool {
	select {
	case <-p.waitCh:
		return true
	default:
		return false
	}
}

func (p *procState) stateInfo() command.ProcessStateInfo {
	return command.ProcessStateInfo{
		ContainerID: p.containerID,
		ExecID:      p.execID,
		Pid:         p.pid,
		Bundle:      p.bundle,
		Status:      p.status,
		Stdin:       p.stdin,
		Stdout:      p.stdout,
		Stderr:      p.stderr,
		Terminal:    p.terminal,
		ExitStatus:  p.exitStatus,
		ExitedAt:    p.exitedAt,
	}
}

func (p *procState) exitStatusInfo() command.ProcessExitStatus {
	return command.ProcessExitStatus{
		ExitStatus: p.exitStatus,
		ExitedAt:   p.exitedAt,
	}
}

// container is one managed container: its config, init process and execs.
type container struct {
	config command.ContainerConfig
	init   *procState
	execs  map[string]*execProc
}

// execProc pairs an exec's uninterpreted spec with its process state.
type execProc struct {
	*procState
	specTypeURL string
	specValue   []byte
}
