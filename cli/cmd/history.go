package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/reader"
	"github.com/justapithecus/fedrun/cli/render"
	"github.com/justapithecus/fedrun/lode"
	"github.com/justapithecus/fedrun/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// defaultHistoryLimit caps history output when --limit is not given.
const defaultHistoryLimit = 50

// HistoryCommand returns the history command.
// History reads load events back from the configured journal.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show journaled load events, newest first",
		Flags: append(SharedFlags(),
			&cli.StringFlag{
				Name:  "remote",
				Usage: "Filter by remote name",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by event type: chunk_installed, chunk_failed, module_imported",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum events to return, 0 for all",
				Value: defaultHistoryLimit,
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for history command", exitUsage)
	}
	if c.Int("limit") < 0 {
		return cli.Exit("--limit must be >= 0", exitUsage)
	}

	filter := lode.Filter{
		Remote: c.String("remote"),
		Limit:  c.Int("limit"),
	}
	if t := c.String("type"); t != "" {
		typ, err := parseEventType(t)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		filter.Type = typ
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Journal.Backend == "" {
		return cli.Exit("history requires a journal backend in config", exitUsage)
	}

	ds, err := openJournal(c.Context, cfg.Journal)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open journal: %v", err), exitError)
	}

	items, err := reader.History(c.Context, ds, filter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read journal: %v", err), exitError)
	}

	if len(items) > listWarningThreshold && filter.Limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d events. Consider using --limit to reduce output.\n\n", len(items))
	}

	return r.Render(items)
}

func parseEventType(s string) (types.LoadEventType, error) {
	switch t := types.LoadEventType(s); t {
	case types.LoadEventChunkInstalled, types.LoadEventChunkFailed, types.LoadEventModuleImported:
		return t, nil
	default:
		return "", fmt.Errorf("invalid event type %q (must be chunk_installed, chunk_failed, or module_imported)", s)
	}
}
