// Package main provides the fedrun CLI entrypoint.
//
// Usage:
//
//	fedrun <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: load, fetch, evaluation or storage failure
//   - 2: invalid usage or config
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/cmd"
	"github.com/justapithecus/fedrun/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "fedrun",
		Usage:          "Module federation runtime CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ImportCommand(),
			cmd.RemotesCommand(),
			cmd.InspectCommand(),
			cmd.HistoryCommand(),
			cmd.VersionCommand("", commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps err to a process exit code and the message to print.
// cli.Exit codes are preserved, including through wrapping. Other errors
// exit 1.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
