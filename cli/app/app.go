// Package app assembles the coordinator's cli.App from its command groups.
package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/commerceblock/guardnode-coordinator/cli/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "guardnode-coordinator\nVersion: %s\nGoVersion: %s\n",
		Version,
		runtime.Version(),
	)
}

// New creates a *cli.App with every coordinator command registered.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "coordinatord"
	ctl.Version = Version
	ctl.Usage = "Guardnode challenge coordinator"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	return ctl
}
