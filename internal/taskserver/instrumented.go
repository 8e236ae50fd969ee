package taskserver

import (
	"context"
	"runtime/pprof"

	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/emptypb"
)

// instrumentedService wraps a task service with per-call logging and
// pprof labels, and prefixes errors with the failing operation.
type instrumentedService struct {
	inner task.TaskService
}

func NewInstrumentedService(inner task.TaskService) task.TaskService {
	return &instrumentedService{inner: inner}
}

var _ task.TaskService = (*instrumentedService)(nil)

func call[Req, Resp any](ctx context.Context, op, taskID, execID string, req Req, fn func(context.Context, Req) (Resp, error)) (Resp, error) {
	fields := logrus.Fields{"taskID": taskID}
	if execID != "" {
		fields["execID"] = execID
	}
	log.G(ctx).WithFields(fields).Infof("call to %s", op)
	defer log.G(ctx).Infof("call to %s complete", op)

	var resp Resp
	var err error
	pprof.Do(ctx, pprof.Labels("rpc", op, "taskID", taskID), func(ctx context.Context) {
		resp, err = fn(ctx, req)
	})
	if err != nil {
		var zero Resp
		return zero, errors.Wrap(err, op)
	}
	return resp, nil
}

func (s *instrumentedService) Create(ctx context.Context, req *task.CreateTaskRequest) (*task.CreateTaskResponse, error) {
	return call(ctx, "task.Create", req.ID, "", req, s.inner.Create)
}

func (s *instrumentedService) Start(ctx context.Context, req *task.StartRequest) (*task.StartResponse, error) {
	return call(ctx, "task.Start", req.ID, req.ExecID, req, s.inner.Start)
}

func (s *instrumentedService) Delete(ctx context.Context, req *task.DeleteRequest) (*task.DeleteResponse, error) {
	return call(ctx, "task.Delete", req.ID, req.ExecID, req, s.inner.Delete)
}

func (s *instrumentedService) Exec(ctx context.Context, req *task.ExecProcessRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Exec", req.ID, req.ExecID, req, s.inner.Exec)
}

func (s *instrumentedService) Kill(ctx context.Context, req *task.KillRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Kill", req.ID, req.ExecID, req, s.inner.Kill)
}

func (s *instrumentedService) CloseIO(ctx context.Context, req *task.CloseIORequest) (*emptypb.Empty, error) {
	return call(ctx, "task.CloseIO", req.ID, req.ExecID, req, s.inner.CloseIO)
}

func (s *instrumentedService) Wait(ctx context.Context, req *task.WaitRequest) (*task.WaitResponse, error) {
	return call(ctx, "task.Wait", req.ID, req.ExecID, req, s.inner.Wait)
}

func (s *instrumentedService) State(ctx context.Context, req *task.StateRequest) (*task.StateResponse, error) {
	return call(ctx, "task.State", req.ID, req.ExecID, req, s.inner.State)
}

func (s *instrumentedService) Pids(ctx context.Context, req *task.PidsRequest) (*task.PidsResponse, error) {
	return call(ctx, "task.Pids", req.ID, "", req, s.inner.Pids)
}

func (s *instrumentedService) Pause(ctx context.Context, req *task.PauseRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Pause", req.ID, "", req, s.inner.Pause)
}

func (s *instrumentedService) Resume(ctx context.Context, req *task.ResumeRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Resume", req.ID, "", req, s.inner.Resume)
}

func (s *instrumentedService) ResizePty(ctx context.Context, req *task.ResizePtyRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.ResizePty", req.ID, req.ExecID, req, s.inner.ResizePty)
}

func (s *instrumentedService) Stats(ctx context.Context, req *task.StatsRequest) (*task.StatsResponse, error) {
	return call(ctx, "task.Stats", req.ID, "", req, s.inner.Stats)
}

func (s *instrumentedService) Update(ctx context.Context, req *task.UpdateTaskRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Update", req.ID, "", req, s.inner.Update)
}

func (s *instrumentedService) Connect(ctx context.Context, req *task.ConnectRequest) (*task.ConnectResponse, error) {
	return call(ctx, "task.Connect", req.ID, "", req, s.inner.Connect)
}

func (s *instrumentedService) Shutdown(ctx context.Context, req *task.ShutdownRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Shutdown", req.ID, "", req, s.inner.Shutdown)
}

func (s *instrumentedService) Checkpoint(ctx context.Context, req *task.CheckpointTaskRequest) (*emptypb.Empty, error) {
	return call(ctx, "task.Checkpoint", req.ID, "", req, s.inner.Checkpoint)
}
