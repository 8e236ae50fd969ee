package taskserver

import (
	"context"
	"testing"
	"time"

	task "github.com/containerd/containerd/api/runtime/task/v2"
	taskapi "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/virtshim/virtshim/internal/command"
)

// fakeHandler records the decoded command and replies with a canned
// response.
type fakeHandler struct {
	got  command.TaskRequest
	resp command.TaskResponse
	err  error
}

func (f *fakeHandler) Handle(_ context.Context, req command.TaskRequest) (command.TaskResponse, error) {
	f.got = req
	return f.resp, f.err
}

func newTestService(h *fakeHandler) task.TaskService {
	return NewService("sb1", h, nil, func() {})
}

func TestCreateRoutesDecodedCommand(t *testing.T) {
	h := &fakeHandler{resp: command.CreateContainerResult{Pid: 0}}
	svc := newTestService(h)

	resp, err := svc.Create(context.Background(), &task.CreateTaskRequest{
		ID:     "c1",
		Bundle: "/run/bundle/c1",
		Stdin:  "",
		Stdout: "/run/io/c1-out",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.Pid != 0 {
		t.Errorf("pid = %d", resp.Pid)
	}

	cfg := h.got.(command.CreateContainer).Config
	if cfg.ContainerID != "c1" || cfg.Bundle != "/run/bundle/c1" {
		t.Errorf("handler saw %+v", cfg)
	}
	if cfg.Stdin != nil {
		t.Errorf("empty stdin must decode to absent, got %q", *cfg.Stdin)
	}
}

func TestStartRejectsInvalidID(t *testing.T) {
	h := &fakeHandler{resp: command.StartProcessResult{Pid: 1}}
	svc := newTestService(h)

	_, err := svc.Start(context.Background(), &task.StartRequest{ID: "!bad"})
	if err == nil {
		t.Fatal("expected error")
	}
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
	if h.got != nil {
		t.Error("handler must not see rejected requests")
	}
}

func TestHandlerErrorsMapToGRPC(t *testing.T) {
	h := &fakeHandler{err: errors.Wrap(errdefs.ErrNotFound, "container c1")}
	svc := newTestService(h)

	_, err := svc.State(context.Background(), &task.StateRequest{ID: "c1"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("code = %v, want NotFound", status.Code(err))
	}
}

func TestStateEncodesSnapshot(t *testing.T) {
	exitedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHandler{resp: command.StateProcessResult{State: command.ProcessStateInfo{
		ContainerID: "c1",
		Pid:         1001,
		Status:      command.StatusExited,
		ExitStatus:  137,
		ExitedAt:    exitedAt,
	}}}
	svc := newTestService(h)

	resp, err := svc.State(context.Background(), &task.StateRequest{ID: "c1"})
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if resp.Status != taskapi.Status_STOPPED {
		t.Errorf("status = %v, want STOPPED", resp.Status)
	}
	if resp.ExitStatus != 137 || !resp.ExitedAt.AsTime().Equal(exitedAt) {
		t.Errorf("got %+v", resp)
	}
}

func TestMismatchedResponseIsInternal(t *testing.T) {
	// Handler wiring defect: a pid response reaching the connect encoder.
	h := &fakeHandler{resp: command.PidResult{Pid: 42}}
	svc := newTestService(h)

	_, err := svc.Connect(context.Background(), &task.ConnectRequest{ID: "c1"})
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %v, want Internal", status.Code(err))
	}
}

func TestShutdownClosesOnSandboxID(t *testing.T) {
	cases := []struct {
		name        string
		id          string
		expectClose bool
	}{
		{name: "sandbox id triggers close", id: "sb1", expectClose: true},
		{name: "container id does not", id: "c1", expectClose: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			closed := false
			h := &fakeHandler{resp: command.ShutdownResult{}}
			svc := NewService("sb1", h, nil, func() { closed = true })

			if _, err := svc.Shutdown(context.Background(), &task.ShutdownRequest{ID: tc.id}); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
			if closed != tc.expectClose {
				t.Errorf("closed = %v, want %v", closed, tc.expectClose)
			}
		})
	}
}

// scriptedHandler replies in order, one response per call.
type scriptedHandler struct {
	got   []command.TaskRequest
	resps []command.TaskResponse
}

func (s *scriptedHandler) Handle(_ context.Context, req command.TaskRequest) (command.TaskResponse, error) {
	s.got = append(s.got, req)
	resp := s.resps[0]
	s.resps = s.resps[1:]
	return resp, nil
}

func TestKillQueriesExitState(t *testing.T) {
	h := &scriptedHandler{resps: []command.TaskResponse{
		command.KillProcessResult{},
		command.StateProcessResult{State: command.ProcessStateInfo{
			ContainerID: "c1",
			Pid:         1001,
			Status:      command.StatusExited,
			ExitStatus:  137,
			ExitedAt:    time.Now().UTC(),
		}},
	}}
	svc := NewService("sb1", h, nil, func() {})

	if _, err := svc.Kill(context.Background(), &task.KillRequest{ID: "c1", Signal: 9}); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(h.got) != 2 {
		t.Fatalf("handler saw %d requests, want 2", len(h.got))
	}
	kill := h.got[0].(command.KillProcess)
	if kill.Request.Signal != 9 || kill.Request.Process.Container.ID != "c1" {
		t.Errorf("kill request = %+v", kill.Request)
	}
	state := h.got[1].(command.StateProcess)
	if state.Process.Container.ID != "c1" {
		t.Errorf("state lookup for %+v", state.Process)
	}
}

func TestCheckpointNotImplemented(t *testing.T) {
	svc := newTestService(&fakeHandler{})
	_, err := svc.Checkpoint(context.Background(), &task.CheckpointTaskRequest{ID: "c1"})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("code = %v, want Unimplemented", status.Code(err))
	}
}

func TestInstrumentedServiceDelegates(t *testing.T) {
	h := &fakeHandler{resp: command.StartProcessResult{Pid: 1001}}
	svc := NewInstrumentedService(newTestService(h))

	resp, err := svc.Start(context.Background(), &task.StartRequest{ID: "c1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Pid != 1001 {
		t.Errorf("pid = %d, want 1001", resp.Pid)
	}
	if _, ok := h.got.(command.StartProcess); !ok {
		t.Errorf("handler saw %T", h.got)
	}
}
