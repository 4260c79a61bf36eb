package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/reader"
	"github.com/justapithecus/fedrun/cli/render"
	"github.com/justapithecus/fedrun/cli/tui"
)

// ImportCommand returns the import command.
// Import resolves REMOTE/PATH, loads its chunk and prints the module's
// exports. With --call it invokes one exported function.
func ImportCommand() *cli.Command {
	flags := append(SharedFlags(), runtimeFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "call",
			Usage: "Exported function to invoke after import",
		},
		&cli.StringSliceFlag{
			Name:  "arg",
			Usage: "Argument for --call (JSON, or a bare string); repeatable",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Print runtime metrics after import",
		},
	)

	return &cli.Command{
		Name:      "import",
		Usage:     "Import an exposed module from a remote",
		ArgsUsage: "REMOTE PATH",
		Flags:     flags,
		Action:    importAction,
	}
}

func importAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: fedrun import REMOTE PATH", exitUsage)
	}
	if c.Bool("tui") && !c.Bool("stats") {
		return cli.Exit("--tui is only supported with --stats for import", exitUsage)
	}
	if len(c.StringSlice("arg")) > 0 && c.String("call") == "" {
		return cli.Exit("--arg requires --call", exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	s, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}

	remote, path := c.Args().Get(0), c.Args().Get(1)
	result, importErr := runImport(ctx, c, s, remote, path)

	// Close drains observers, so stats include journal writes.
	if err := s.close(ctx); err != nil {
		s.logger.Warn("runtime close failed", map[string]any{"error": err.Error()})
	}
	if importErr != nil {
		return cli.Exit(importErr.Error(), exitError)
	}

	if c.Bool("stats") {
		stats := reader.Stats(s.metrics.Snapshot())
		if c.Bool("tui") {
			return r.RenderTUI(tui.ViewStatsImport, stats)
		}
		if err := r.Render(result); err != nil {
			return err
		}
		return r.Render(stats)
	}
	return r.Render(result)
}

func runImport(ctx context.Context, c *cli.Context, s *session, remote, path string) (*reader.ImportResult, error) {
	exports, err := s.rt.ImportRemote(ctx, remote, path)
	if err != nil {
		return nil, err
	}

	result := &reader.ImportResult{
		Remote:  remote,
		Expose:  path,
		Module:  string(exports.Module()),
		Kind:    exports.Kind(),
		Exports: exports.Keys(),
	}

	fn := c.String("call")
	if fn == "" {
		return result, nil
	}
	results, err := exports.Call(ctx, fn, parseArgs(c.StringSlice("arg"))...)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", fn, err)
	}
	result.Call = fn
	result.Results = results
	return result, nil
}

// parseArgs decodes each argument as JSON, keeping it as a plain string
// when it is not valid JSON.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, a := range raw {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			args = append(args, a)
			continue
		}
		args = append(args, v)
	}
	return args
}
