package shim

import (
	"fmt"
	"os"
	"strings"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"go.opencensus.io/trace"

	"github.com/virtshim/virtshim/internal/oc"
)

const (
	// usage string for the shim executable.
	usage = ``
	// ttrpcAddressEnv is the environment variable used to pass the ttrpc address to the shim.
	ttrpcAddressEnv = "TTRPC_ADDRESS"
)

// `-ldflags '-X ...'` only works if the variable is uninitialized or set to a constant value.
var (
	// version will be the repo version that the binary was built from
	version = ""
	// gitCommit will be the hash that the binary was built from
	gitCommit = ""
)

func Run(shim Shim) {
	// Get the shim name.
	shimName := shim.Name()

	// Register our OpenCensus logrus exporter
	trace.ApplyConfig(trace.Config{DefaultSampler: oc.DefaultSampler})
	trace.RegisterExporter(&oc.LogrusExporter{})

	app := cli.NewApp()
	app.Name = shimName
	app.Usage = usage

	var v []string
	if version != "" {
		v = append(v, version)
	}
	if gitCommit != "" {
		v = append(v, fmt.Sprintf("commit: %s", gitCommit))
	}
	v = append(v, fmt.Sprintf("spec: %s", specs.Version))
	app.Version = strings.Join(v, "\n")

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "namespace",
			Usage: "the namespace of the container",
		},
		cli.StringFlag{
			Name:  "address",
			Usage: "the address of the containerd's main socket",
		},
		cli.StringFlag{
			Name:  "publish-binary",
			Usage: "the binary path to publish events back to containerd",
		},
		cli.StringFlag{
			Name:  "id",
			Usage: "the id of the container",
		},
		cli.StringFlag{
			Name:  "bundle",
			Usage: "the bundle path to delete (delete command only).",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "run the shim in debug mode",
		},
	}
	app.Commands = []cli.Command{
		getStartCommand(shim),
		getServeCommand(shim),
		getDeleteCommand(shim),
	}
	// In the before stage, we will check if we have the required flags.
	app.Before = func(context *cli.Context) error {
		if namespaceFlag := context.GlobalString("namespace"); namespaceFlag == "" {
			return errors.New("namespace is required")
		}
		if addressFlag := context.GlobalString("address"); addressFlag == "" {
			return errors.New("address is required")
		}
		if idFlag := context.GlobalString("id"); idFlag == "" {
			return errors.New("id is required")
		}
		if context.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(cli.ErrWriter, err)
		os.Exit(1)
	}
}

// parseContext parses the cli context into a shimContext.
func parseContext(ctx *cli.Context) *shimContext {
	return &shimContext{
		namespace:     ctx.GlobalString("namespace"),
		address:       ctx.GlobalString("address"),
		publishBinary: ctx.GlobalString("publish-binary"),
		id:            ctx.GlobalString("id"),
	}
}
