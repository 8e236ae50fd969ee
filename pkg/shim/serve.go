package shim

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/containerd/ttrpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/virtshim/virtshim/internal/ctrdpub"
	"github.com/virtshim/virtshim/internal/monitor"
)

func getServeCommand(shim Shim) cli.Command {
	var serveCommand = cli.Command{
		Name:   "serve",
		Hidden: true,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "socket",
				Usage: "the socket path to listen on",
			},
		},
		SkipArgReorder: true,
		Action: func(context *cli.Context) error {
			return serve(context, shim)
		},
	}
	return serveCommand
}

func serve(cliCtx *cli.Context, shim Shim) error {
	ctx := context.Background()
	shimCtx := parseContext(cliCtx)

	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: log.RFC3339NanoFixed,
		FullTimestamp:   true,
	})
	logger := log.G(ctx).WithFields(logrus.Fields{
		"pid":       os.Getpid(),
		"namespace": shimCtx.namespace,
		"id":        shimCtx.id,
	})

	socket := cliCtx.String("socket")
	if socket == "" {
		return errors.New("socket is required")
	}
	// A previous shim for this bundle may have left its socket behind.
	_ = os.Remove(socket)
	l, err := net.Listen("unix", socket)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", socket)
	}

	publisher, err := newPublisher(shimCtx.namespace)
	if err != nil {
		l.Close()
		return err
	}

	server, err := ttrpc.NewServer()
	if err != nil {
		l.Close()
		return errors.Wrap(err, "create ttrpc server")
	}
	if err := shim.RegisterServices(cliCtx, server, publisher); err != nil {
		l.Close()
		return errors.Wrap(err, "register shim services")
	}

	// Per-sandbox process metrics, scraped over a second unix socket
	// beside the ttrpc one.
	monitorSock := filepath.Join(filepath.Dir(socket), "monitor.sock")
	_ = os.Remove(monitorSock)
	ml, err := net.Listen("unix", monitorSock)
	if err != nil {
		l.Close()
		return errors.Wrapf(err, "listen on %s", monitorSock)
	}
	monitorSrv := &http.Server{Handler: monitor.New()}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx, l)
	})
	g.Go(func() error {
		if err := monitorSrv.Serve(ml); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics endpoint failed")
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig).Info("shim signalled")
		case <-shim.Done():
			logger.Info("shim service requested shutdown")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		_ = monitorSrv.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to shut down ttrpc server cleanly")
			server.Close()
		}
		return nil
	})

	// The parent start command is still copying our stderr; closing it
	// signals that serving has begun and lets the parent return.
	logger.Info("shim serving")
	os.Stderr.Close()

	err = g.Wait()
	publisher.Close()
	_ = os.Remove(socket)
	_ = os.Remove(monitorSock)
	if err != nil && !errors.Is(err, ttrpc.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func newPublisher(namespace string) (*ctrdpub.Publisher, error) {
	address := os.Getenv(ttrpcAddressEnv)
	if address == "" {
		// Nothing to forward events to; a nil publisher discards them.
		return nil, nil
	}
	return ctrdpub.NewPublisher(address, namespace)
}
