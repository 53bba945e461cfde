package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/activecm/flowguard/database"
	"github.com/activecm/flowguard/pkg/flow"
)

var ErrMissingEntityKey = errors.New("entity key is required")

// FeedbackCommand records an analyst's true/false-positive verdict on a
// finding, feeding Tier 4's historical false-positive-rate and
// pattern-repetition checks for future batches.
var FeedbackCommand = &cli.Command{
	Name:      "feedback",
	Usage:     "record an analyst verdict on a finding",
	ArgsUsage: "FINDING_ID",
	Flags: []cli.Flag{
		ConfigFlag(false),
		&cli.StringFlag{
			Name:  "database",
			Usage: "ClickHouse database the finding was archived into",
			Value: "flowguard",
		},
		&cli.StringFlag{
			Name:     "kind",
			Usage:    "finding kind (PORT_SCAN, DDOS, C2_BEACON, CRYPTO_MINING, TOR_USAGE)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "entity",
			Usage:    "entity key the finding was raised against (typically the source address)",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "false-positive",
			Usage: "mark the finding as a false positive",
		},
	},
	Action: func(cCtx *cli.Context) error {
		findingID, err := requireAtMostOneArg(cCtx)
		if err != nil {
			return err
		}
		if findingID == "" {
			return ErrMissingFindingID
		}
		if cCtx.String("entity") == "" {
			return ErrMissingEntityKey
		}

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

		return db.RecordFeedback(ctx, findingID, flow.Kind(cCtx.String("kind")), cCtx.String("entity"), cCtx.Bool("false-positive"), time.Now().UTC())
	},
}
