package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/config"
	"github.com/justapithecus/fedrun/cli/reader"
	"github.com/justapithecus/fedrun/cli/render"
	"github.com/justapithecus/fedrun/cli/tui"
	"github.com/justapithecus/fedrun/types"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a configured entity",
		Subcommands: []*cli.Command{
			inspectRemoteCommand(),
		},
	}
}

func inspectRemoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "remote",
		Usage:     "Inspect a remote's exposes and derived chunk locations",
		ArgsUsage: "NAME",
		Flags:     append(SharedFlags(), runtimeFlags()...),
		Action:    inspectRemoteAction,
	}
}

func inspectRemoteAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fedrun inspect remote NAME", exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// Inspection loads nothing, so observers stay off.
	inspectCfg := *cfg
	inspectCfg.Journal = config.JournalConfig{}
	inspectCfg.Adapter = config.AdapterConfig{}

	s, err := newSession(c.Context, &inspectCfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.close(c.Context) }()

	resp, err := reader.InspectRemote(s.rt, c.Args().First())
	if err != nil {
		if errors.Is(err, types.ErrUnknownRemote) {
			return cli.Exit(err.Error(), exitUsage)
		}
		return cli.Exit(err.Error(), exitError)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectRemote, resp)
	}
	return r.Render(resp)
}
