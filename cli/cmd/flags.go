// Package cmd provides CLI commands for the fedrun binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitSuccess = 0
	exitError   = 1
	exitUsage   = 2
)

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "fedrun.yaml"

// Shared flags.
var (
	// ConfigFlag selects the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to fedrun.yaml",
		EnvVars: []string{"FEDRUN_CONFIG"},
		Value:   DefaultConfigPath,
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect and import --stats.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, import --stats only)",
	}
)

// SharedFlags returns the flags every command accepts.
// Includes --tui so that unsupported commands can provide explicit error
// messages instead of generic "flag not defined" errors.
func SharedFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// runtimeFlags override config values that shape a runtime.
func runtimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "Host application name (overrides config)"},
		&cli.StringFlag{Name: "output-dir", Usage: "Root for path-based remotes (overrides config)"},
		&cli.StringFlag{Name: "public-path", Usage: "Base URL for path-based remotes (overrides config)"},
		&cli.DurationFlag{Name: "fetch-timeout", Usage: "Per-request fetch timeout, 0 for none (overrides config)"},
		&cli.Int64Flag{Name: "max-chunk-bytes", Usage: "Max remote chunk size, 0 for unbounded (overrides config)"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error (overrides config)"},
	}
}
