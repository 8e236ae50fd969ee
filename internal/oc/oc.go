// Package oc carries the small amount of opencensus plumbing the RPC
// surfaces share: span helpers and a logrus exporter.
package oc

import (
	"context"

	"github.com/containerd/errdefs"
	"go.opencensus.io/trace"
)

// DefaultSampler samples every span; shim call volume is low enough that
// sampling buys nothing.
var DefaultSampler = trace.AlwaysSample()

func StartSpan(ctx context.Context, name string, o ...trace.StartOption) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, name, o...)
}

// SetSpanStatus records err on the span, mapping the errdefs taxonomy
// onto opencensus status codes.
func SetSpanStatus(span *trace.Span, err error) {
	if err == nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeOK})
		return
	}
	span.SetStatus(trace.Status{Code: statusCode(err), Message: err.Error()})
}

func statusCode(err error) int32 {
	switch {
	case errdefs.IsInvalidArgument(err):
		return trace.StatusCodeInvalidArgument
	case errdefs.IsNotFound(err):
		return trace.StatusCodeNotFound
	case errdefs.IsAlreadyExists(err):
		return trace.StatusCodeAlreadyExists
	case errdefs.IsFailedPrecondition(err):
		return trace.StatusCodeFailedPrecondition
	case errdefs.IsUnavailable(err):
		return trace.StatusCodeUnavailable
	case errdefs.IsNotImplemented(err):
		return trace.StatusCodeUnimplemented
	case errdefs.IsCanceled(err):
		return trace.StatusCodeCancelled
	case errdefs.IsDeadlineExceeded(err):
		return trace.StatusCodeDeadlineExceeded
	case errdefs.IsInternal(err):
		return trace.StatusCodeInternal
	default:
		return trace.StatusCodeUnknown
	}
}
