package main

import (
	"sync"

	sandboxapi "github.com/containerd/containerd/api/runtime/sandbox/v1"
	taskapi "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/ttrpc"
	"github.com/urfave/cli"

	"github.com/virtshim/virtshim/internal/core/localvm"
	"github.com/virtshim/virtshim/internal/ctrdpub"
	"github.com/virtshim/virtshim/internal/runtimes"
	"github.com/virtshim/virtshim/internal/sandboxserver"
	"github.com/virtshim/virtshim/internal/taskserver"
	"github.com/virtshim/virtshim/pkg/shim"
)

// virtboxShim glues the sandbox backend and the container manager to the
// two ttrpc surfaces containerd talks to.
type virtboxShim struct {
	done     chan struct{}
	doneOnce sync.Once
}

var _ shim.Shim = &virtboxShim{}

func newVirtboxShim() *virtboxShim {
	return &virtboxShim{done: make(chan struct{})}
}

// close is handed to both ttrpc services; either surface may request
// shutdown, whichever comes first wins.
func (v *virtboxShim) close() {
	v.doneOnce.Do(func() { close(v.done) })
}

func (v *virtboxShim) Name() string {
	return name
}

func (v *virtboxShim) RegisterServices(ctx *cli.Context, server *ttrpc.Server, publisher *ctrdpub.Publisher) error {
	sandboxID := ctx.GlobalString("id")
	// The serve process runs with the bundle as cwd; state snapshots
	// live beside the shim socket.
	sb := localvm.NewPersistent(sandboxID, ".")
	mgr := runtimes.NewManager()

	taskSvc := taskserver.NewService(sandboxID, mgr, publisher, v.close)
	taskapi.RegisterTaskService(server, taskserver.NewInstrumentedService(taskSvc))
	sandboxapi.RegisterTTRPCSandboxService(server, sandboxserver.NewService(sb, v.close))
	return nil
}

func (v *virtboxShim) Done() <-chan struct{} {
	return v.done
}
