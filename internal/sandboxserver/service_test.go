package sandboxserver

import (
	"context"
	"os"
	"testing"
	"time"

	sandboxapi "github.com/containerd/containerd/api/runtime/sandbox/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"

	"github.com/virtshim/virtshim/internal/command"
	"github.com/virtshim/virtshim/internal/core"
)

// fakeSandbox records calls and serves canned status.
type fakeSandbox struct {
	createOpt   *core.CreateOpt
	started     bool
	stopTimeout time.Duration
	stopped     bool
	shutdown    bool
	status      core.SandboxStatus
	waited      bool
}

var _ core.Sandbox = (*fakeSandbox)(nil)

func (f *fakeSandbox) Create(_ context.Context, opt *core.CreateOpt) error {
	f.createOpt = opt
	return nil
}
func (f *fakeSandbox) Start(context.Context) error { f.started = true; return nil }
func (f *fakeSandbox) Run(context.Context, []string, *specs.Spec, *specs.State, core.SandboxNetworkEnv) error {
	return nil
}
func (f *fakeSandbox) Status(context.Context) (core.SandboxStatus, error) { return f.status, nil }
func (f *fakeSandbox) Wait(context.Context) error                        { f.waited = true; return nil }
func (f *fakeSandbox) Stop(_ context.Context, timeout time.Duration) error {
	f.stopped = true
	f.stopTimeout = timeout
	return nil
}
func (f *fakeSandbox) Cleanup(context.Context) error  { return nil }
func (f *fakeSandbox) Shutdown(context.Context) error { f.shutdown = true; return nil }
func (f *fakeSandbox) SetIPTables(_ context.Context, _ bool, data []byte) ([]byte, error) {
	return data, nil
}
func (f *fakeSandbox) GetIPTables(context.Context, bool) ([]byte, error) { return nil, nil }
func (f *fakeSandbox) DirectVolumeStats(context.Context, string) (string, error) {
	return "", nil
}
func (f *fakeSandbox) DirectVolumeResize(context.Context, core.ResizeVolumeRequest) error {
	return nil
}
func (f *fakeSandbox) AgentSock(context.Context) (string, error) { return "", nil }

func podConfigAny(t *testing.T, cfg *runtimeapi.PodSandboxConfig) *anypb.Any {
	t.Helper()
	value, err := proto.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal pod sandbox config: %v", err)
	}
	return &anypb.Any{TypeUrl: command.SandboxAPIVersion, Value: value}
}

func TestCreateSandbox(t *testing.T) {
	fake := &fakeSandbox{}
	svc := NewService(fake, func() {})

	_, err := svc.CreateSandbox(context.Background(), &sandboxapi.CreateSandboxRequest{
		SandboxID: "sb1",
		NetnsPath: "/var/run/netns/cni-1",
		Options: podConfigAny(t, &runtimeapi.PodSandboxConfig{
			Hostname:    "pod-host",
			Annotations: map[string]string{"a": "b"},
		}),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if fake.createOpt == nil {
		t.Fatal("backend never saw the create")
	}
	if fake.createOpt.Hostname != "pod-host" {
		t.Errorf("hostname = %q", fake.createOpt.Hostname)
	}
	if fake.createOpt.NetworkEnv.Netns != "/var/run/netns/cni-1" {
		t.Errorf("netns = %q", fake.createOpt.NetworkEnv.Netns)
	}
	if fake.createOpt.Annotations["a"] != "b" {
		t.Errorf("annotations = %+v", fake.createOpt.Annotations)
	}
}

func TestCreateSandboxRejectsUnknownConfigType(t *testing.T) {
	svc := NewService(&fakeSandbox{}, func() {})

	_, err := svc.CreateSandbox(context.Background(), &sandboxapi.CreateSandboxRequest{
		SandboxID: "sb1",
		Options:   &anypb.Any{TypeUrl: "runtime.v1alpha2.PodSandboxConfig"},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestStartSandbox(t *testing.T) {
	fake := &fakeSandbox{}
	svc := NewService(fake, func() {})

	resp, err := svc.StartSandbox(context.Background(), &sandboxapi.StartSandboxRequest{SandboxID: "sb1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !fake.started {
		t.Error("backend never saw the start")
	}
	if resp.Pid != uint32(os.Getpid()) {
		t.Errorf("pid = %d, want shim pid", resp.Pid)
	}
	if resp.CreatedAt == nil {
		t.Error("created timestamp missing")
	}
}

func TestPlatform(t *testing.T) {
	svc := NewService(&fakeSandbox{}, func() {})

	resp, err := svc.Platform(context.Background(), &sandboxapi.PlatformRequest{SandboxID: "sb1"})
	if err != nil {
		t.Fatalf("platform: %v", err)
	}
	if resp.Platform == nil || resp.Platform.OS == "" || resp.Platform.Architecture == "" {
		t.Errorf("got %+v", resp.Platform)
	}
}

func TestStopSandboxPlumbsTimeout(t *testing.T) {
	fake := &fakeSandbox{}
	svc := NewService(fake, func() {})

	_, err := svc.StopSandbox(context.Background(), &sandboxapi.StopSandboxRequest{
		SandboxID:   "sb1",
		TimeoutSecs: 10,
	})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !fake.stopped || fake.stopTimeout != 10*time.Second {
		t.Errorf("stopped=%v timeout=%v", fake.stopped, fake.stopTimeout)
	}
}

func TestWaitSandbox(t *testing.T) {
	exitedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeSandbox{status: core.SandboxStatus{ExitedAt: exitedAt}}
	svc := NewService(fake, func() {})

	resp, err := svc.WaitSandbox(context.Background(), &sandboxapi.WaitSandboxRequest{SandboxID: "sb1"})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !fake.waited {
		t.Error("backend never saw the wait")
	}
	if resp.ExitedAt == nil || !resp.ExitedAt.AsTime().Equal(exitedAt) {
		t.Errorf("got %v", resp.ExitedAt)
	}
}

func TestSandboxStatusVerbose(t *testing.T) {
	fake := &fakeSandbox{status: core.SandboxStatus{
		SandboxID: "sb1",
		Pid:       42,
		State:     "running",
		Info:      map[string]string{"hostname": "pod-host"},
		CreatedAt: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
	}}
	svc := NewService(fake, func() {})

	t.Run("verbose", func(t *testing.T) {
		resp, err := svc.SandboxStatus(context.Background(), &sandboxapi.SandboxStatusRequest{
			SandboxID: "sb1", Verbose: true,
		})
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if resp.SandboxID != "sb1" || resp.Pid != 42 || resp.State != "running" {
			t.Errorf("got %+v", resp)
		}
		if resp.Info["hostname"] != "pod-host" {
			t.Errorf("info = %+v", resp.Info)
		}
		if resp.CreatedAt == nil {
			t.Error("created timestamp missing")
		}
		if resp.ExitedAt != nil {
			t.Errorf("live sandbox must not carry an exit timestamp, got %v", resp.ExitedAt)
		}
	})

	t.Run("not verbose omits info", func(t *testing.T) {
		resp, err := svc.SandboxStatus(context.Background(), &sandboxapi.SandboxStatusRequest{SandboxID: "sb1"})
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if resp.Info != nil {
			t.Errorf("info should be omitted, got %+v", resp.Info)
		}
	})
}

func TestPingSandbox(t *testing.T) {
	svc := NewService(&fakeSandbox{}, func() {})
	if _, err := svc.PingSandbox(context.Background(), &sandboxapi.PingRequest{SandboxID: "sb1"}); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestShutdownSandbox(t *testing.T) {
	fake := &fakeSandbox{}
	closed := false
	svc := NewService(fake, func() { closed = true })

	if _, err := svc.ShutdownSandbox(context.Background(), &sandboxapi.ShutdownSandboxRequest{SandboxID: "sb1"}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !fake.shutdown {
		t.Error("backend never saw the shutdown")
	}
	if !closed {
		t.Error("serving loop was not signalled")
	}
}
