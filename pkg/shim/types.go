package shim

import (
	"time"

	"github.com/containerd/ttrpc"
	"github.com/urfave/cli"

	"github.com/virtshim/virtshim/internal/ctrdpub"
)

const (
	// sockName is the listening socket created inside the bundle
	// directory; the address returned to containerd points at it.
	sockName = "shim.sock"

	// gracefulShutdownTimeout is how long to wait for clean-up before just exiting.
	gracefulShutdownTimeout = 3 * time.Second
)

// Shim defines the behavior of a containerd shim. Implementations hold
// the state and specific logic for the runtime.
type Shim interface {
	// Name returns the shim name (e.g., "containerd-shim-virtbox-v1").
	Name() string

	// RegisterServices allows the shim to register its specific TTRPC services.
	RegisterServices(ctx *cli.Context, server *ttrpc.Server, publisher *ctrdpub.Publisher) error

	// Done returns a channel that closes when the service wants to shut down.
	Done() <-chan struct{}
}

// shimContext is the internal parsed global configuration from the context.
type shimContext struct {
	// id is parsed from id field in the context.
	id string
	// namespace is parsed from namespace field in the context.
	namespace string
	// address is parsed from address field in the context.
	address string
	// publishBinary is parsed from publish-binary field in the context.
	publishBinary string
}
