// Package taskserver exposes the containerd task v2 API over ttrpc. The
// service contributes no decision logic: every request is decoded into a
// command, handed to the Handler, and the result encoded back into the
// wire response the call expects.
package taskserver

import (
	"context"

	eventstypes "github.com/containerd/containerd/api/events"
	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/containerd/v2/core/runtime"
	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errgrpc"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/virtshim/virtshim/internal/command"
	"github.com/virtshim/virtshim/internal/ctrdpub"
)

// Handler executes one decoded task command. The shim's runtime manager
// implements it; tests substitute fakes.
type Handler interface {
	Handle(ctx context.Context, req command.TaskRequest) (command.TaskResponse, error)
}

type service struct {
	// sandboxID is the task ID of the sandbox container; a shutdown
	// addressed to it brings the whole shim down.
	sandboxID string
	handler   Handler
	publisher *ctrdpub.Publisher
	// shutdown signals the serving loop to exit; safe to call more
	// than once.
	shutdown func()
}

var _ task.TaskService = (*service)(nil)

func NewService(sandboxID string, handler Handler, publisher *ctrdpub.Publisher, shutdown func()) task.TaskService {
	return &service{
		sandboxID: sandboxID,
		handler:   handler,
		publisher: publisher,
		shutdown:  shutdown,
	}
}

func (s *service) publishEvent(ctx context.Context, topic string, event interface{}) {
	if err := s.publisher.PublishEvent(ctx, topic, event); err != nil {
		log.G(ctx).WithError(err).WithField("topic", topic).Info("publish event failed")
	}
}

func (s *service) Create(ctx context.Context, req *task.CreateTaskRequest) (*task.CreateTaskResponse, error) {
	cmd, err := command.DecodeCreateTask(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeCreateTaskResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	s.publishEvent(ctx, runtime.TaskCreateEventTopic, &eventstypes.TaskCreate{
		ContainerID: req.ID,
		Bundle:      req.Bundle,
		Rootfs:      req.Rootfs,
		IO: &eventstypes.TaskIO{
			Stdin:    req.Stdin,
			Stdout:   req.Stdout,
			Stderr:   req.Stderr,
			Terminal: req.Terminal,
		},
		Pid: wire.Pid,
	})
	return wire, nil
}

func (s *service) Start(ctx context.Context, req *task.StartRequest) (*task.StartResponse, error) {
	cmd, err := command.DecodeStart(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeStartResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	if req.ExecID == "" {
		s.publishEvent(ctx, runtime.TaskStartEventTopic, &eventstypes.TaskStart{
			ContainerID: req.ID,
			Pid:         wire.Pid,
		})
	} else {
		s.publishEvent(ctx, runtime.TaskExecStartedEventTopic, &eventstypes.TaskExecStarted{
			ContainerID: req.ID,
			ExecID:      req.ExecID,
			Pid:         wire.Pid,
		})
	}
	return wire, nil
}

func (s *service) Delete(ctx context.Context, req *task.DeleteRequest) (*task.DeleteResponse, error) {
	cmd, err := command.DecodeDelete(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeDeleteResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	s.publishEvent(ctx, runtime.TaskDeleteEventTopic, &eventstypes.TaskDelete{
		ContainerID: req.ID,
		ID:          req.ExecID,
		Pid:         wire.Pid,
		ExitStatus:  wire.ExitStatus,
		ExitedAt:    wire.ExitedAt,
	})
	return wire, nil
}

func (s *service) Exec(ctx context.Context, req *task.ExecProcessRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeExec(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeEmpty(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	s.publishEvent(ctx, runtime.TaskExecAddedEventTopic, &eventstypes.TaskExecAdded{
		ContainerID: req.ID,
		ExecID:      req.ExecID,
	})
	return wire, nil
}

func (s *service) Kill(ctx context.Context, req *task.KillRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeKill(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := s.handleEmpty(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.publishExit(ctx, cmd.(command.KillProcess).Request.Process)
	return wire, nil
}

// publishExit reports the process exit the kill produced. The state
// lookup is best effort: a process already deleted just means no event.
func (s *service) publishExit(ctx context.Context, p command.ContainerProcess) {
	resp, err := s.handler.Handle(ctx, command.StateProcess{Process: p})
	if err != nil {
		log.G(ctx).WithError(err).Debug("no state for exit event")
		return
	}
	state, ok := resp.(command.StateProcessResult)
	if !ok || state.State.ExitedAt.IsZero() {
		return
	}
	id := state.State.ExecID
	if id == "" {
		id = state.State.ContainerID
	}
	s.publishEvent(ctx, runtime.TaskExitEventTopic, &eventstypes.TaskExit{
		ContainerID: state.State.ContainerID,
		ID:          id,
		Pid:         state.State.Pid,
		ExitStatus:  state.State.ExitStatus,
		ExitedAt:    command.ToTimestamp(state.State.ExitedAt),
	})
}

func (s *service) CloseIO(ctx context.Context, req *task.CloseIORequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeCloseIO(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return s.handleEmpty(ctx, cmd)
}

func (s *service) Wait(ctx context.Context, req *task.WaitRequest) (*task.WaitResponse, error) {
	cmd, err := command.DecodeWait(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeWaitResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return wire, nil
}

func (s *service) State(ctx context.Context, req *task.StateRequest) (*task.StateResponse, error) {
	cmd, err := command.DecodeState(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeStateResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return wire, nil
}

func (s *service) Pids(ctx context.Context, req *task.PidsRequest) (*task.PidsResponse, error) {
	cmd, err := command.DecodePids(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodePidsResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return wire, nil
}

func (s *service) Pause(ctx context.Context, req *task.PauseRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodePause(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return s.handleEmpty(ctx, cmd)
}

func (s *service) Resume(ctx context.Context, req *task.ResumeRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeResume(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return s.handleEmpty(ctx, cmd)
}

func (s *service) ResizePty(ctx context.Context, req *task.ResizePtyRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeResizePty(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return s.handleEmpty(ctx, cmd)
}

func (s *service) Stats(ctx context.Context, req *task.StatsRequest) (*task.StatsResponse, error) {
	cmd, err := command.DecodeStats(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeStatsResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return wire, nil
}

func (s *service) Update(ctx context.Context, req *task.UpdateTaskRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeUpdate(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return s.handleEmpty(ctx, cmd)
}

func (s *service) Connect(ctx context.Context, req *task.ConnectRequest) (*task.ConnectResponse, error) {
	cmd, err := command.DecodeConnect(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeConnectResponse(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return wire, nil
}

func (s *service) Shutdown(ctx context.Context, req *task.ShutdownRequest) (*emptypb.Empty, error) {
	cmd, err := command.DecodeShutdown(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := s.handleEmpty(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if req.ID == s.sandboxID {
		s.shutdown()
	}
	return wire, nil
}

func (s *service) Checkpoint(ctx context.Context, req *task.CheckpointTaskRequest) (*emptypb.Empty, error) {
	return nil, errgrpc.ToGRPC(errors.Wrap(errdefs.ErrNotImplemented, "checkpoint"))
}

func (s *service) handleEmpty(ctx context.Context, cmd command.TaskRequest) (*emptypb.Empty, error) {
	resp, err := s.handler.Handle(ctx, cmd)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	wire, err := command.EncodeEmpty(resp)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return wire, nil
}
