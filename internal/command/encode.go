package command

import (
	"time"

	task "github.com/containerd/containerd/api/runtime/task/v2"
	taskapi "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/v2/pkg/protobuf"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// WireStatus maps a ProcessStatus onto the wire enum. Stopped and Exited
// deliberately collapse to STOPPED: the orchestrator only knows the
// coarser state and compatibility depends on it.
func (s ProcessStatus) WireStatus() taskapi.Status {
	switch s {
	case StatusCreated:
		return taskapi.Status_CREATED
	case StatusRunning:
		return taskapi.Status_RUNNING
	case StatusStopped:
		return taskapi.Status_STOPPED
	case StatusPaused:
		return taskapi.Status_PAUSED
	case StatusPausing:
		return taskapi.Status_PAUSING
	case StatusExited:
		return taskapi.Status_STOPPED
	default:
		return taskapi.Status_UNKNOWN
	}
}

// ToTimestamp encodes a time for the wire. The zero time means "not set"
// and encodes as no timestamp at all, never as epoch zero.
func ToTimestamp(t time.Time) *timestamppb.Timestamp {
	if t.IsZero() {
		return nil
	}
	return protobuf.ToTimestamp(t)
}

func (s ProcessStateInfo) stateResponse() *task.StateResponse {
	return &task.StateResponse{
		ID:         s.ContainerID,
		Bundle:     s.Bundle,
		Pid:        s.Pid,
		Status:     s.Status.WireStatus(),
		Stdin:      orEmpty(s.Stdin),
		Stdout:     orEmpty(s.Stdout),
		Stderr:     orEmpty(s.Stderr),
		Terminal:   s.Terminal,
		ExitStatus: s.ExitStatus,
		ExitedAt:   ToTimestamp(s.ExitedAt),
		ExecID:     s.ExecID,
	}
}

func (s ProcessStateInfo) deleteResponse() *task.DeleteResponse {
	return &task.DeleteResponse{
		Pid:        s.Pid,
		ExitStatus: s.ExitStatus,
		ExitedAt:   ToTimestamp(s.ExitedAt),
	}
}

func EncodeCreateTaskResponse(resp TaskResponse) (*task.CreateTaskResponse, error) {
	r, ok := resp.(CreateContainerResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "CreateTaskResponse"}
	}
	return &task.CreateTaskResponse{Pid: r.Pid}, nil
}

func EncodeDeleteResponse(resp TaskResponse) (*task.DeleteResponse, error) {
	r, ok := resp.(DeleteProcessResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "DeleteResponse"}
	}
	return r.State.deleteResponse(), nil
}

func EncodeWaitResponse(resp TaskResponse) (*task.WaitResponse, error) {
	r, ok := resp.(WaitProcessResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "WaitResponse"}
	}
	return &task.WaitResponse{
		ExitStatus: r.Exit.ExitStatus,
		ExitedAt:   ToTimestamp(r.Exit.ExitedAt),
	}, nil
}

func EncodeStartResponse(resp TaskResponse) (*task.StartResponse, error) {
	r, ok := resp.(StartProcessResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "StartResponse"}
	}
	return &task.StartResponse{Pid: r.Pid}, nil
}

func EncodeStateResponse(resp TaskResponse) (*task.StateResponse, error) {
	r, ok := resp.(StateProcessResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "StateResponse"}
	}
	return r.State.stateResponse(), nil
}

// EncodeStatsResponse re-wraps the opaque stats payload without
// interpreting it.
func EncodeStatsResponse(resp TaskResponse) (*task.StatsResponse, error) {
	r, ok := resp.(StatsResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "StatsResponse"}
	}
	out := &task.StatsResponse{}
	if r.Stats != nil {
		out.Stats = &anypb.Any{
			TypeUrl: r.Stats.TypeURL,
			Value:   r.Stats.Value,
		}
	}
	return out, nil
}

func EncodePidsResponse(resp TaskResponse) (*task.PidsResponse, error) {
	r, ok := resp.(PidResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "PidsResponse"}
	}
	return &task.PidsResponse{
		Processes: []*taskapi.ProcessInfo{{Pid: r.Pid}},
	}, nil
}

func EncodeConnectResponse(resp TaskResponse) (*task.ConnectResponse, error) {
	r, ok := resp.(ConnectResult)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "ConnectResponse"}
	}
	return &task.ConnectResponse{ShimPid: r.Pid}, nil
}

// EncodeEmpty acknowledges the fire-and-forget calls. Exactly the
// payload-free variants are accepted; anything else is a wiring defect.
func EncodeEmpty(resp TaskResponse) (*emptypb.Empty, error) {
	switch resp.(type) {
	case CloseProcessIOResult, ExecProcessResult, KillProcessResult,
		ShutdownResult, PauseResult, ResumeResult, ResizePTYResult, UpdateResult:
		return &emptypb.Empty{}, nil
	default:
		return nil, &UnexpectedResponseError{Response: resp, Wanted: "Empty"}
	}
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
