// Package command is the closed command model sitting between the
// containerd wire protocol (task v2 and sandbox v1 APIs) and the runtime
// that drives sandboxes and containers. The decoder collapses every
// supported wire request into one SandboxRequest or TaskRequest variant,
// and the encoder expands TaskResponse variants back into the exact wire
// response a call site expects. Both directions are pure and stateless.
package command

import (
	"time"
)

// SandboxConfig carries everything needed to create a sandbox, merged
// from the outer CreateSandboxRequest and the embedded pod-sandbox config.
type SandboxConfig struct {
	SandboxID    string
	BundlePath   string
	RootfsMounts []Mount
	// TypeURL is the declared type of the embedded config. The decoder
	// only ever produces SandboxAPIVersion here.
	TypeURL     string
	Hostname    string
	Annotations map[string]string
	NetnsPath   string
}

// SandboxID addresses a single sandbox for lifecycle calls that carry no
// further payload.
type SandboxID struct {
	ID string
}

// StopSandboxRequest asks for a graceful stop within TimeoutSecs.
type StopSandboxRequest struct {
	SandboxID   string
	TimeoutSecs uint32
}

// SandboxStatusRequest queries sandbox status, optionally verbose.
type SandboxStatusRequest struct {
	SandboxID string
	Verbose   bool
}

// ContainerConfig is the normalized "create container" argument bundle.
// Stdio paths are nil when the wire carried an empty string.
type ContainerConfig struct {
	ContainerID  string
	Bundle       string
	RootfsMounts []Mount
	Terminal     bool
	// Options is the raw payload of the request options Any, passed
	// through uninterpreted. Nil when the request carried none.
	Options []byte
	Stdin   *string
	Stdout  *string
	Stderr  *string
}

// ExecProcessRequest describes an exec'd process. The process spec is
// retained as an uninterpreted (type-url, bytes) pair; the designated
// interpreter lives behind the runtime boundary.
type ExecProcessRequest struct {
	Process     ContainerProcess
	Terminal    bool
	Stdin       *string
	Stdout      *string
	Stderr      *string
	SpecTypeURL string
	SpecValue   []byte
}

// KillRequest delivers a signal to one process or to every process in the
// container when All is set.
type KillRequest struct {
	Process ContainerProcess
	Signal  uint32
	All     bool
}

// ResizePTYRequest resizes the terminal of one process.
type ResizePTYRequest struct {
	Process ContainerProcess
	Width   uint32
	Height  uint32
}

// UpdateRequest carries raw resource-update bytes for a container.
type UpdateRequest struct {
	ContainerID string
	Value       []byte
}

// ShutdownRequest tears down a container, immediately when IsNow is set.
type ShutdownRequest struct {
	ContainerID string
	IsNow       bool
}

// StatsInfo is an opaque typed payload re-wrapped into a stats response
// without interpretation.
type StatsInfo struct {
	TypeURL string
	Value   []byte
}

// ProcessStatus is the process-level lifecycle state. It is deliberately
// finer grained than the wire protocol: see WireStatus.
type ProcessStatus int32

const (
	StatusUnknown ProcessStatus = iota
	StatusCreated
	StatusRunning
	StatusStopped
	StatusPaused
	StatusPausing
	StatusExited
)

func (s ProcessStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusPaused:
		return "paused"
	case StatusPausing:
		return "pausing"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ProcessStateInfo is a full process state snapshot. It is a pure query
// result and is never mutated after construction.
type ProcessStateInfo struct {
	ContainerID string
	ExecID      string
	Pid         uint32
	Bundle      string
	Status      ProcessStatus
	Stdin       *string
	Stdout      *string
	Stderr      *string
	Terminal    bool
	ExitStatus  uint32
	// ExitedAt is the zero time while the process is still alive.
	ExitedAt time.Time
}

// ProcessExitStatus is the minimal exit-only snapshot.
type ProcessExitStatus struct {
	ExitStatus uint32
	ExitedAt   time.Time
}

// SandboxRequest is the closed set of decoded sandbox-API commands. The
// decoder is its only producer; consumers switch exhaustively over the
// variants below.
type SandboxRequest interface {
	isSandboxRequest()
}

type (
	// CreateSandbox provisions a new sandbox.
	CreateSandbox struct{ Config SandboxConfig }
	// StartSandbox transitions a created sandbox to running.
	StartSandbox struct{ Sandbox SandboxID }
	// Platform reports the platform the sandbox runs workloads on.
	Platform struct{ Sandbox SandboxID }
	// StopSandbox requests a graceful stop.
	StopSandbox struct{ Request StopSandboxRequest }
	// WaitSandbox blocks until the sandbox exits.
	WaitSandbox struct{ Sandbox SandboxID }
	// SandboxStatus queries a status snapshot.
	SandboxStatus struct{ Request SandboxStatusRequest }
	// PingSandbox is a liveness probe.
	PingSandbox struct{ Sandbox SandboxID }
	// ShutdownSandbox tears down the sandbox and its infrastructure.
	ShutdownSandbox struct{ Sandbox SandboxID }
)

func (CreateSandbox) isSandboxRequest()   {}
func (StartSandbox) isSandboxRequest()    {}
func (Platform) isSandboxRequest()        {}
func (StopSandbox) isSandboxRequest()     {}
func (WaitSandbox) isSandboxRequest()     {}
func (SandboxStatus) isSandboxRequest()   {}
func (PingSandbox) isSandboxRequest()     {}
func (ShutdownSandbox) isSandboxRequest() {}

// TaskRequest is the closed set of decoded task-API commands. No variant
// carries raw wire types.
type TaskRequest interface {
	isTaskRequest()
}

type (
	CreateContainer   struct{ Config ContainerConfig }
	CloseProcessIO    struct{ Process ContainerProcess }
	DeleteProcess     struct{ Process ContainerProcess }
	ExecProcess       struct{ Request ExecProcessRequest }
	KillProcess       struct{ Request KillRequest }
	WaitProcess       struct{ Process ContainerProcess }
	StartProcess      struct{ Process ContainerProcess }
	StateProcess      struct{ Process ContainerProcess }
	ShutdownContainer struct{ Request ShutdownRequest }
	ResizeProcessPTY  struct{ Request ResizePTYRequest }
	PauseContainer    struct{ Container ContainerID }
	ResumeContainer   struct{ Container ContainerID }
	StatsContainer    struct{ Container ContainerID }
	UpdateContainer   struct{ Request UpdateRequest }
	// PidRequest has no payload; it reports the shim process.
	PidRequest       struct{}
	ConnectContainer struct{ Container ContainerID }
)

func (CreateContainer) isTaskRequest()   {}
func (CloseProcessIO) isTaskRequest()    {}
func (DeleteProcess) isTaskRequest()     {}
func (ExecProcess) isTaskRequest()       {}
func (KillProcess) isTaskRequest()       {}
func (WaitProcess) isTaskRequest()       {}
func (StartProcess) isTaskRequest()      {}
func (StateProcess) isTaskRequest()      {}
func (ShutdownContainer) isTaskRequest() {}
func (ResizeProcessPTY) isTaskRequest()  {}
func (PauseContainer) isTaskRequest()    {}
func (ResumeContainer) isTaskRequest()   {}
func (StatsContainer) isTaskRequest()    {}
func (UpdateContainer) isTaskRequest()   {}
func (PidRequest) isTaskRequest()        {}
func (ConnectContainer) isTaskRequest()  {}

// TaskResponse is the closed set of task command results, one variant per
// wire response shape. The encoder is its only consumer.
type TaskResponse interface {
	isTaskResponse()
}

type (
	CreateContainerResult struct{ Pid uint32 }
	CloseProcessIOResult  struct{}
	DeleteProcessResult   struct{ State ProcessStateInfo }
	ExecProcessResult     struct{}
	KillProcessResult     struct{}
	WaitProcessResult     struct{ Exit ProcessExitStatus }
	StartProcessResult    struct{ Pid uint32 }
	StateProcessResult    struct{ State ProcessStateInfo }
	ShutdownResult        struct{}
	ResizePTYResult       struct{}
	PauseResult           struct{}
	ResumeResult          struct{}
	StatsResult           struct{ Stats *StatsInfo }
	UpdateResult          struct{}
	PidResult             struct{ Pid uint32 }
	ConnectResult         struct{ Pid uint32 }
)

func (CreateContainerResult) isTaskResponse() {}
func (CloseProcessIOResult) isTaskResponse()  {}
func (DeleteProcessResult) isTaskResponse()   {}
func (ExecProcessResult) isTaskResponse()     {}
func (KillProcessResult) isTaskResponse()     {}
func (WaitProcessResult) isTaskResponse()     {}
func (StartProcessResult) isTaskResponse()    {}
func (StateProcessResult) isTaskResponse()    {}
func (ShutdownResult) isTaskResponse()        {}
func (ResizePTYResult) isTaskResponse()       {}
func (PauseResult) isTaskResponse()           {}
func (ResumeResult) isTaskResponse()          {}
func (StatsResult) isTaskResponse()           {}
func (UpdateResult) isTaskResponse()          {}
func (PidResult) isTaskResponse()             {}
func (ConnectResult) isTaskResponse()         {}
