package cmd

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/activecm/flowguard/database"
	"github.com/activecm/flowguard/viewer"
)

// ViewCommand launches the finding-viewer TUI against the archive database.
var ViewCommand = &cli.Command{
	Name:  "view",
	Usage: "browse archived findings in the terminal UI",
	Flags: []cli.Flag{
		ConfigFlag(false),
		&cli.StringFlag{
			Name:  "database",
			Usage: "ClickHouse database to browse",
			Value: "flowguard",
		},
		&cli.DurationFlag{
			Name:  "window",
			Usage: "how far back to look for findings",
			Value: 24 * time.Hour,
		},
	},
	Action: func(cCtx *cli.Context) error {
		afs := afero.NewOsFs()
		cfg, err := RunValidateConfigCommand(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cCtx.Context)
		defer cancel()

		db, err := database.ConnectToDB(ctx, cCtx.String("database"), cfg, cancel)
		if err != nil {
			return err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}

		maxTimestamp := time.Now().UTC()
		minTimestamp := maxTimestamp.Add(-cCtx.Duration("window"))

		return viewer.CreateUI(cfg, db, true, maxTimestamp, minTimestamp)
	},
}
