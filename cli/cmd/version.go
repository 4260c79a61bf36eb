package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/render"
	"github.com/justapithecus/fedrun/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	ContractVersion string `json:"contract_version"`
	Commit          string `json:"commit"`
}

// VersionCommand returns the version command.
// It reads no config and loads nothing.
func VersionCommand(_, commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag, NoColorFlag, TUIFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}

		// TUI not supported for version command
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitUsage)
		}

		return r.Render(VersionResponse{
			Version:         types.Version,
			ContractVersion: types.ContractVersion,
			Commit:          commit,
		})
	}
}
