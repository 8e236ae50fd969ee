package command

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ProtocolMismatchError reports a wire payload declaring a type-url this
// shim does not support. It is a hard reject: the request produces no
// command.
type ProtocolMismatchError struct {
	TypeURL string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("unsupported type url: %s", e.TypeURL)
}

func (e *ProtocolMismatchError) Unwrap() error { return errdefs.ErrInvalidArgument }

// InvalidIdentityError reports a container or exec identifier that failed
// construction. The decoder wraps it with the name of the failing call.
type InvalidIdentityError struct {
	ID     string
	Reason string
}

func (e *InvalidIdentityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid identity: %s", e.Reason)
	}
	return fmt.Sprintf("invalid identity %q: %s", e.ID, e.Reason)
}

func (e *InvalidIdentityError) Unwrap() error { return errdefs.ErrInvalidArgument }

// UnexpectedResponseError reports a TaskResponse variant reaching an
// encoder that produces a different wire response type. It indicates a
// caller/handler wiring defect and must never be swallowed: substituting
// a default response would corrupt the orchestrator's view of state.
type UnexpectedResponseError struct {
	// Response is the mismatched value, kept for diagnosis.
	Response TaskResponse
	// Wanted names the wire response type the call site asked for.
	Wanted string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected task response %T for %s", e.Response, e.Wanted)
}

func (e *UnexpectedResponseError) Unwrap() error { return errdefs.ErrInternal }
