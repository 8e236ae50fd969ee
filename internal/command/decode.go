package command

import (
	sandboxapi "github.com/containerd/containerd/api/runtime/sandbox/v1"
	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"
)

// SandboxAPIVersion is the single type-url accepted for the embedded
// config of a CreateSandboxRequest. This is a protocol-compatibility
// constant, not configurable.
const SandboxAPIVersion = "runtime.v1.PodSandboxConfig"

// DecodeCreateSandbox validates the embedded config's type-url, parses
// the pod-sandbox config it carries and merges it with the outer request
// into a SandboxConfig.
func DecodeCreateSandbox(req *sandboxapi.CreateSandboxRequest) (SandboxRequest, error) {
	var typeURL string
	if req.Options != nil {
		typeURL = req.Options.TypeUrl
	}
	if typeURL != SandboxAPIVersion {
		return nil, &ProtocolMismatchError{TypeURL: typeURL}
	}

	var config runtimeapi.PodSandboxConfig
	if err := proto.Unmarshal(req.Options.Value, &config); err != nil {
		return nil, errors.Wrap(err, "parse pod sandbox config")
	}

	return CreateSandbox{Config: SandboxConfig{
		SandboxID:    req.SandboxID,
		BundlePath:   req.BundlePath,
		RootfsMounts: mountsFromProto(req.Rootfs),
		TypeURL:      typeURL,
		Hostname:     config.Hostname,
		Annotations:  config.Annotations,
		NetnsPath:    req.NetnsPath,
	}}, nil
}

func DecodeStartSandbox(req *sandboxapi.StartSandboxRequest) (SandboxRequest, error) {
	return StartSandbox{Sandbox: SandboxID{ID: req.SandboxID}}, nil
}

func DecodePlatform(req *sandboxapi.PlatformRequest) (SandboxRequest, error) {
	return Platform{Sandbox: SandboxID{ID: req.SandboxID}}, nil
}

func DecodeStopSandbox(req *sandboxapi.StopSandboxRequest) (SandboxRequest, error) {
	return StopSandbox{Request: StopSandboxRequest{
		SandboxID:   req.SandboxID,
		TimeoutSecs: req.TimeoutSecs,
	}}, nil
}

func DecodeWaitSandbox(req *sandboxapi.WaitSandboxRequest) (SandboxRequest, error) {
	return WaitSandbox{Sandbox: SandboxID{ID: req.SandboxID}}, nil
}

func DecodeSandboxStatus(req *sandboxapi.SandboxStatusRequest) (SandboxRequest, error) {
	return SandboxStatus{Request: SandboxStatusRequest{
		SandboxID: req.SandboxID,
		Verbose:   req.Verbose,
	}}, nil
}

func DecodePing(req *sandboxapi.PingRequest) (SandboxRequest, error) {
	return PingSandbox{Sandbox: SandboxID{ID: req.SandboxID}}, nil
}

func DecodeShutdownSandbox(req *sandboxapi.ShutdownSandboxRequest) (SandboxRequest, error) {
	return ShutdownSandbox{Sandbox: SandboxID{ID: req.SandboxID}}, nil
}

// DecodeCreateTask normalizes a container creation request. Options stay
// raw, stdio empty strings become absent.
func DecodeCreateTask(req *task.CreateTaskRequest) (TaskRequest, error) {
	var options []byte
	if req.Options != nil {
		options = req.Options.Value
	}
	return CreateContainer{Config: ContainerConfig{
		ContainerID:  req.ID,
		Bundle:       req.Bundle,
		RootfsMounts: mountsFromProto(req.Rootfs),
		Terminal:     req.Terminal,
		Options:      options,
		Stdin:        optString(req.Stdin),
		Stdout:       optString(req.Stdout),
		Stderr:       optString(req.Stderr),
	}}, nil
}

func DecodeCloseIO(req *task.CloseIORequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "close io")
	}
	return CloseProcessIO{Process: p}, nil
}

func DecodeDelete(req *task.DeleteRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "delete")
	}
	return DeleteProcess{Process: p}, nil
}

// DecodeExec unpacks the process-spec Any without interpreting it: the
// type-url and raw bytes travel to the runtime as-is.
func DecodeExec(req *task.ExecProcessRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "exec")
	}
	var specTypeURL string
	var specValue []byte
	if req.Spec != nil {
		specTypeURL = req.Spec.TypeUrl
		specValue = req.Spec.Value
	}
	return ExecProcess{Request: ExecProcessRequest{
		Process:     p,
		Terminal:    req.Terminal,
		Stdin:       optString(req.Stdin),
		Stdout:      optString(req.Stdout),
		Stderr:      optString(req.Stderr),
		SpecTypeURL: specTypeURL,
		SpecValue:   specValue,
	}}, nil
}

func DecodeKill(req *task.KillRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "kill")
	}
	return KillProcess{Request: KillRequest{
		Process: p,
		Signal:  req.Signal,
		All:     req.All,
	}}, nil
}

func DecodeWait(req *task.WaitRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "wait")
	}
	return WaitProcess{Process: p}, nil
}

func DecodeStart(req *task.StartRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "start")
	}
	return StartProcess{Process: p}, nil
}

func DecodeState(req *task.StateRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "state")
	}
	return StateProcess{Process: p}, nil
}

func DecodeShutdown(req *task.ShutdownRequest) (TaskRequest, error) {
	return ShutdownContainer{Request: ShutdownRequest{
		ContainerID: req.ID,
		IsNow:       req.Now,
	}}, nil
}

func DecodeResizePty(req *task.ResizePtyRequest) (TaskRequest, error) {
	p, err := NewContainerProcess(req.ID, req.ExecID)
	if err != nil {
		return nil, errors.Wrap(err, "resize pty")
	}
	return ResizeProcessPTY{Request: ResizePTYRequest{
		Process: p,
		Width:   req.Width,
		Height:  req.Height,
	}}, nil
}

func DecodePause(req *task.PauseRequest) (TaskRequest, error) {
	c, err := NewContainerID(req.ID)
	if err != nil {
		return nil, errors.Wrap(err, "pause")
	}
	return PauseContainer{Container: c}, nil
}

func DecodeResume(req *task.ResumeRequest) (TaskRequest, error) {
	c, err := NewContainerID(req.ID)
	if err != nil {
		return nil, errors.Wrap(err, "resume")
	}
	return ResumeContainer{Container: c}, nil
}

func DecodeStats(req *task.StatsRequest) (TaskRequest, error) {
	c, err := NewContainerID(req.ID)
	if err != nil {
		return nil, errors.Wrap(err, "stats")
	}
	return StatsContainer{Container: c}, nil
}

// DecodeUpdate passes the resource payload through as raw bytes.
func DecodeUpdate(req *task.UpdateTaskRequest) (TaskRequest, error) {
	var value []byte
	if req.Resources != nil {
		value = req.Resources.Value
	}
	return UpdateContainer{Request: UpdateRequest{
		ContainerID: req.ID,
		Value:       value,
	}}, nil
}

func DecodePids(_ *task.PidsRequest) (TaskRequest, error) {
	return PidRequest{}, nil
}

func DecodeConnect(req *task.ConnectRequest) (TaskRequest, error) {
	c, err := NewContainerID(req.ID)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	return ConnectContainer{Container: c}, nil
}

// optString maps the wire's empty-string sentinel to "absent". An empty
// string never becomes a present-but-empty path.
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
