// Package ctrdpub forwards runtime events to containerd over its ttrpc
// events service.
package ctrdpub

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	eventsapi "github.com/containerd/containerd/api/services/events/v1"
	"github.com/containerd/containerd/v2/pkg/namespaces"
	"github.com/containerd/containerd/v2/pkg/protobuf"
	"github.com/containerd/ttrpc"
	"github.com/containerd/typeurl/v2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/virtshim/virtshim/internal/oc"
)

const forwardRetries = 5

// Publisher forwards typed events to the containerd daemon. A nil
// Publisher discards events, so callers never have to branch on whether
// publishing is configured.
type Publisher struct {
	namespace string
	client    eventsapi.TTRPCEventsClient
	conn      net.Conn
}

// NewPublisher dials the daemon's ttrpc address (the TTRPC_ADDRESS the
// shim was launched with).
func NewPublisher(address, namespace string) (*Publisher, error) {
	conn, err := net.Dial("unix", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial events endpoint %s", address)
	}
	return &Publisher{
		namespace: namespace,
		client:    eventsapi.NewTTRPCEventsClient(ttrpc.NewClient(conn)),
		conn:      conn,
	}, nil
}

func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// PublishEvent marshals event into its Any envelope and forwards it,
// retrying transient failures with exponential backoff. The event must be
// a type registered with typeurl (the containerd api event types are).
func (p *Publisher) PublishEvent(ctx context.Context, topic string, event interface{}) (err error) {
	ctx, span := oc.StartSpan(ctx, "publishEvent")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute("topic", topic))

	if p == nil {
		return nil
	}

	evt, err := typeurl.MarshalAnyToProto(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	req := &eventsapi.ForwardRequest{
		Envelope: &eventsapi.Envelope{
			Timestamp: protobuf.ToTimestamp(time.Now()),
			Namespace: p.namespace,
			Topic:     topic,
			Event:     evt,
		},
	}

	ctx = namespaces.WithNamespace(ctx, p.namespace)
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), forwardRetries), ctx)
	return backoff.Retry(func() error {
		_, ferr := p.client.Forward(ctx, req)
		return ferr
	}, policy)
}
