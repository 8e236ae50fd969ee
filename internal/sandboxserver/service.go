// Package sandboxserver exposes the containerd sandbox v1 API over
// ttrpc, routing decoded commands to a core.Sandbox backend.
package sandboxserver

import (
	"context"
	"os"
	"time"

	sandbox "github.com/containerd/containerd/api/runtime/sandbox/v1"
	"github.com/containerd/containerd/api/types"
	"github.com/containerd/errdefs/pkg/errgrpc"
	"github.com/containerd/platforms"
	"go.opencensus.io/trace"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/virtshim/virtshim/internal/command"
	"github.com/virtshim/virtshim/internal/core"
	"github.com/virtshim/virtshim/internal/oc"
)

type service struct {
	sandbox core.Sandbox
	// shutdown signals the serving loop to exit; safe to call more
	// than once.
	shutdown func()
}

var _ sandbox.TTRPCSandboxService = (*service)(nil)

func NewService(sb core.Sandbox, shutdown func()) sandbox.TTRPCSandboxService {
	return &service{sandbox: sb, shutdown: shutdown}
}

// CreateSandbox decodes the creation request, including the embedded
// pod-sandbox config, and provisions the backend.
func (s *service) CreateSandbox(ctx context.Context, req *sandbox.CreateSandboxRequest) (resp *sandbox.CreateSandboxResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Create")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.StringAttribute("sandbox-id", req.SandboxID),
		trace.StringAttribute("bundle", req.BundlePath),
		trace.StringAttribute("netns-path", req.NetnsPath))

	cmd, err := command.DecodeCreateSandbox(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	cfg := cmd.(command.CreateSandbox).Config

	opt := &core.CreateOpt{
		Hostname: cfg.Hostname,
		NetworkEnv: core.SandboxNetworkEnv{
			Netns: cfg.NetnsPath,
		},
		Annotations: cfg.Annotations,
	}
	if err := s.sandbox.Create(ctx, opt); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return &sandbox.CreateSandboxResponse{}, nil
}

func (s *service) StartSandbox(ctx context.Context, req *sandbox.StartSandboxRequest) (resp *sandbox.StartSandboxResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Start")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("sandbox-id", req.SandboxID))

	if _, err := command.DecodeStartSandbox(req); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	if err := s.sandbox.Start(ctx); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return &sandbox.StartSandboxResponse{
		Pid:       uint32(os.Getpid()),
		CreatedAt: timestamppb.Now(),
	}, nil
}

// Platform reports the platform sandbox workloads run on.
func (s *service) Platform(ctx context.Context, req *sandbox.PlatformRequest) (resp *sandbox.PlatformResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Platform")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("sandbox-id", req.SandboxID))

	if _, err := command.DecodePlatform(req); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	p := platforms.DefaultSpec()
	return &sandbox.PlatformResponse{
		Platform: &types.Platform{
			OS:           p.OS,
			Architecture: p.Architecture,
			Variant:      p.Variant,
		},
	}, nil
}

func (s *service) StopSandbox(ctx context.Context, req *sandbox.StopSandboxRequest) (resp *sandbox.StopSandboxResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Stop")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.StringAttribute("sandbox-id", req.SandboxID),
		trace.Int64Attribute("timeout-secs", int64(req.TimeoutSecs)))

	cmd, err := command.DecodeStopSandbox(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	stop := cmd.(command.StopSandbox).Request
	timeout := time.Duration(stop.TimeoutSecs) * time.Second
	if err := s.sandbox.Stop(ctx, timeout); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return &sandbox.StopSandboxResponse{}, nil
}

func (s *service) WaitSandbox(ctx context.Context, req *sandbox.WaitSandboxRequest) (resp *sandbox.WaitSandboxResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Wait")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("sandbox-id", req.SandboxID))

	if _, err := command.DecodeWaitSandbox(req); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	if err := s.sandbox.Wait(ctx); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	status, err := s.sandbox.Status(ctx)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return &sandbox.WaitSandboxResponse{
		ExitedAt: command.ToTimestamp(status.ExitedAt),
	}, nil
}

func (s *service) SandboxStatus(ctx context.Context, req *sandbox.SandboxStatusRequest) (resp *sandbox.SandboxStatusResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Status")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.StringAttribute("sandbox-id", req.SandboxID),
		trace.BoolAttribute("verbose", req.Verbose))

	cmd, err := command.DecodeSandboxStatus(req)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	query := cmd.(command.SandboxStatus).Request
	status, err := s.sandbox.Status(ctx)
	if err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	out := &sandbox.SandboxStatusResponse{
		SandboxID: status.SandboxID,
		Pid:       status.Pid,
		State:     status.State,
		CreatedAt: command.ToTimestamp(status.CreatedAt),
		ExitedAt:  command.ToTimestamp(status.ExitedAt),
	}
	if query.Verbose {
		out.Info = status.Info
	}
	return out, nil
}

func (s *service) PingSandbox(ctx context.Context, req *sandbox.PingRequest) (resp *sandbox.PingResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Ping")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("sandbox-id", req.SandboxID))

	if _, err := command.DecodePing(req); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	return &sandbox.PingResponse{}, nil
}

// ShutdownSandbox tears down the sandbox and signals the shim to exit.
func (s *service) ShutdownSandbox(ctx context.Context, req *sandbox.ShutdownSandboxRequest) (resp *sandbox.ShutdownSandboxResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Shutdown")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("sandbox-id", req.SandboxID))

	if _, err := command.DecodeShutdownSandbox(req); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	if err := s.sandbox.Shutdown(ctx); err != nil {
		return nil, errgrpc.ToGRPC(err)
	}
	s.shutdown()
	return &sandbox.ShutdownSandboxResponse{}, nil
}

// SandboxMetrics re-wraps whatever opaque metrics payload the backend's
// agent produced; the local backend produces none.
func (s *service) SandboxMetrics(ctx context.Context, req *sandbox.SandboxMetricsRequest) (resp *sandbox.SandboxMetricsResponse, err error) {
	ctx, span := oc.StartSpan(ctx, "sandbox.Metrics")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("sandbox-id", req.SandboxID))

	return &sandbox.SandboxMetricsResponse{}, nil
}
