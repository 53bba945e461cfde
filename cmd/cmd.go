// Package cmd wires flowguard's command-line surface: config validation, a
// one-shot ingest/detect/publish run over a flow-record file, the finding
// viewer TUI, and analyst feedback recording.
package cmd

import (
	"errors"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var (
	ErrMissingConfigPath = errors.New("config path parameter is required")
	ErrTooManyArguments  = errors.New("too many arguments provided")
	ErrMissingInputFile  = errors.New("input file path is required")
	ErrMissingFindingID  = errors.New("finding ID is required")
)

// Commands returns the full set of flowguard CLI commands.
func Commands() []*cli.Command {
	return []*cli.Command{
		ValidateConfigCommand,
		IngestCommand,
		ViewCommand,
		FeedbackCommand,
	}
}

// ConfigFlag builds the --config flag shared by every command, validating
// the path as soon as the flag is parsed rather than deep inside the
// command's Action.
func ConfigFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Load configuration from `FILE`",
		Value:    "./config.hjson", // default config file path
		Required: required,
		Action: func(_ *cli.Context, path string) error {
			return ValidateConfigPath(afero.NewOsFs(), path)
		},
	}
}

// requireAtMostOneArg rejects any command invoked with more positional
// arguments than it knows how to use, returning the single argument (or ""
// if none was given).
func requireAtMostOneArg(cCtx *cli.Context) (string, error) {
	if cCtx.Args().Len() > 1 {
		return "", ErrTooManyArguments
	}
	return cCtx.Args().First(), nil
}
