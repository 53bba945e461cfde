package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/activecm/flowguard/config"
	"github.com/activecm/flowguard/util"
)

var ErrInvalidConfig = errors.New("invalid config")

// ValidateConfigCommand parses and validates a config file without running
// any pipeline, so an operator can catch a bad threshold or malformed
// whitelist before an ingest run depends on it.
var ValidateConfigCommand = &cli.Command{
	Name:  "validate-config",
	Usage: "validate a flowguard config file",
	Flags: []cli.Flag{
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		afs := afero.NewOsFs()
		path := cCtx.String("config")

		if _, err := RunValidateConfigCommand(afs, path); err != nil {
			return err
		}

		fmt.Printf("config at %q is valid\n", path)
		return nil
	},
}

// RunValidateConfigCommand validates the path, then parses and validates the
// config file it points to.
func RunValidateConfigCommand(afs afero.Fs, configPath string) (*config.Config, error) {
	if err := ValidateConfigPath(afs, configPath); err != nil {
		return nil, err
	}

	cfg, err := config.ReadFileConfig(afs, configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// ValidateConfigPath resolves configPath and confirms it names a readable,
// non-empty file.
func ValidateConfigPath(afs afero.Fs, configPath string) error {
	if configPath == "" {
		return ErrMissingConfigPath
	}

	path, err := util.ParseRelativePath(configPath)
	if err != nil {
		return err
	}

	return util.ValidateFile(afs, path)
}
