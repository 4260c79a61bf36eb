package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/reader"
	"github.com/justapithecus/fedrun/cli/render"
	"github.com/justapithecus/fedrun/resolver"
)

// RemotesCommand returns the remotes command.
// Remotes lists the configured remote table. It never fetches.
func RemotesCommand() *cli.Command {
	return &cli.Command{
		Name:   "remotes",
		Usage:  "List configured remotes",
		Flags:  SharedFlags(),
		Action: remotesAction,
	}
}

func remotesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for remotes command", exitUsage)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	descs, err := cfg.RemoteDescriptors()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}
	res, err := resolver.New(descs)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}

	return r.Render(reader.ListRemotes(res))
}
