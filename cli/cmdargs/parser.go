// Package cmdargs holds small CLI argument-parsing helpers shared by the
// coordinator's commands.
package cmdargs

import (
	"github.com/urfave/cli/v2"
)

// EnsureNone returns an error if there are any positional arguments present.
// It can be used to check for them in commands that don't accept arguments.
func EnsureNone(ctx *cli.Context) error {
	if ctx.Args().Present() {
		return cli.Exit("additional arguments given while this command expects none", 1)
	}
	return nil
}
