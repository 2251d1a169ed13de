// Command coordinatord runs the guardnode challenge coordinator.
package main

import (
	"fmt"
	"os"

	"github.com/commerceblock/guardnode-coordinator/cli/app"
)

func main() {
	ctl := app.New()
	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
