package shim

import (
	"os"
	"path/filepath"
	"time"

	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/containerd/v2/pkg/protobuf"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"
	"google.golang.org/protobuf/proto"
)

func getDeleteCommand(shim Shim) cli.Command {
	var deleteCommand = cli.Command{
		Name: "delete",
		Usage: `
This command allows containerd to delete any container resources created, mounted, and/or run by a shim when containerd can no longer retrieve its state.

The delete command will be executed in the container's bundle as its cwd.
`,
		SkipArgReorder: true,
		Action: func(context *cli.Context) error {
			// Stdout carries the marshalled response; keep logging off it.
			logrus.SetOutput(os.Stderr)

			bundle := context.GlobalString("bundle")
			if bundle == "" {
				if cwd, err := os.Getwd(); err == nil {
					bundle = cwd
				}
			}
			if bundle != "" {
				cleanupBundle(bundle)
			}

			resp := &task.DeleteResponse{
				ExitedAt:   protobuf.ToTimestamp(time.Now().UTC()),
				ExitStatus: uint32(unix.SIGKILL) + 128,
			}
			out, err := proto.Marshal(resp)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
	return deleteCommand
}

// cleanupBundle removes the files a previous shim process left in the
// bundle directory. Missing files are fine; the shim may never have
// gotten far enough to create them.
func cleanupBundle(bundle string) {
	for _, name := range []string{sockName, "monitor.sock", "address", "shim.pid", "panic.log"} {
		if err := os.Remove(filepath.Join(bundle, name)); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("file", name).Warn("failed to remove shim file")
		}
	}
}
