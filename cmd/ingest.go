package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/activecm/flowguard/config"
	"github.com/activecm/flowguard/database"
	"github.com/activecm/flowguard/logger"
	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/pkg/pipeline"
	"github.com/activecm/flowguard/progressbar"
	"github.com/activecm/flowguard/util"
)

const pipelineSpinnerID = 0

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// IngestCommand runs one batch of flow records through the full detection
// pipeline: Tier 1 statistical detectors, Tier 2 ML models (if configured),
// Tier 3 correlation, and Tier 4 validation, then archives and publishes
// whatever Findings survive.
var IngestCommand = &cli.Command{
	Name:      "ingest",
	Usage:     "run a batch of flow records through the detection pipeline",
	ArgsUsage: "FILE",
	Flags: []cli.Flag{
		ConfigFlag(false),
		&cli.StringFlag{
			Name:  "database",
			Usage: "ClickHouse database to archive findings into",
			Value: "flowguard",
		},
	},
	Action: func(cCtx *cli.Context) error {
		path, err := requireAtMostOneArg(cCtx)
		if err != nil {
			return err
		}
		if path == "" {
			return ErrMissingInputFile
		}

		afs := afero.NewOsFs()
		cfg, err := RunValidateConfigCommand(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		return RunIngestCommand(cCtx.Context, afs, cfg, cCtx.String("database"), path)
	},
}

// RunIngestCommand reads the flow records at path, runs them through the
// pipeline built from cfg, and archives/publishes the resulting findings.
func RunIngestCommand(ctx context.Context, afs afero.Fs, cfg *config.Config, dbName, path string) error {
	log := logger.GetLogger()

	batch, err := readFlowRecords(afs, path)
	if err != nil {
		return fmt.Errorf("reading flow records: %w", err)
	}
	log.Info().Int("records", len(batch)).Str("file", path).Msg("read flow records")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := database.ConnectToDB(ctx, dbName, cfg, cancel)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	processor, err := buildProcessor(cfg, db, log)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	result, err := runPipelineWithProgress(ctx, processor, batch)
	if err != nil {
		return fmt.Errorf("processing batch: %w", err)
	}

	batchID, err := util.NewFixedStringHash("ingest-batch", path, fmt.Sprint(time.Now().UnixNano()))
	if err != nil {
		return err
	}
	for i := range result.Findings {
		result.Findings[i].BatchID = batchID.Hex()
	}

	log.Info().
		Int("tier1_anomalies", result.Tier1Count).
		Int("tier2_anomalies", result.Tier2Count).
		Int("correlation_groups", result.CorrelationGroups).
		Int("findings", result.ValidatedCount).
		Dur("total_time", result.TotalTime).
		Msg("batch processed")

	if len(result.Findings) == 0 {
		return nil
	}

	if err := archiveFindings(db, cfg, result.Findings); err != nil {
		return fmt.Errorf("archiving findings: %w", err)
	}

	publisher, err := buildPublisher(cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("building publisher: %w", err)
	}
	if err := publisher.PublishFindings(ctx, result.Findings); err != nil {
		return fmt.Errorf("publishing findings: %w", err)
	}

	store := buildCorrstateStore(cfg)
	defer store.Close()
	recordCorrelationState(ctx, store, result.Findings)

	return nil
}

// runPipelineWithProgress drives processor.Process alongside a spinner TUI,
// following the errgroup-plus-progressbar.New pattern the archive's batch
// analysis stage uses.
func runPipelineWithProgress(ctx context.Context, processor *pipeline.Processor, batch []flow.FlowRecord) (*pipeline.Result, error) {
	bars := progressbar.New(ctx, nil, []progressbar.Spinner{
		progressbar.NewSpinner("Running detection pipeline...", pipelineSpinnerID),
	})

	group, gctx := errgroup.WithContext(ctx)
	var result *pipeline.Result
	group.Go(func() error {
		var err error
		result, err = processor.Process(gctx, batch)
		bars.Send(progressbar.ProgressSpinnerMsg(pipelineSpinnerID))
		return err
	})
	group.Go(func() error {
		_, err := bars.Run()
		return err
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// archiveFindings drains findings into the findings table via a single
// writer worker; ingest runs are one-shot and batches are already small
// relative to the writer's configured batch size.
func archiveFindings(db *database.DB, cfg *config.Config, findings []flow.Finding) error {
	writer := database.NewFindingsWriter(db, cfg, 1)
	writer.Start(0)

	for _, f := range findings {
		writer.WriteChannel <- database.NewFindingRecord(f)
	}
	writer.Close()
	return nil
}

// wireFlowRecord mirrors one flow record's newline-delimited JSON
// representation on disk.
type wireFlowRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	SrcAddr     string    `json:"src_addr"`
	DstAddr     string    `json:"dst_addr"`
	SrcPort     uint16    `json:"src_port"`
	DstPort     uint16    `json:"dst_port"`
	Protocol    string    `json:"protocol"`
	Action      string    `json:"action"`
	PacketCount uint64    `json:"packet_count"`
	ByteCount   uint64    `json:"byte_count"`
	DurationSec float64   `json:"duration_seconds,omitempty"`
}

// readFlowRecords validates path, then decodes it as newline-delimited JSON
// flow records. Records that fail FlowRecord.Validate are skipped and their
// count is logged.
func readFlowRecords(afs afero.Fs, path string) ([]flow.FlowRecord, error) {
	resolved, err := util.ParseRelativePath(path)
	if err != nil {
		return nil, err
	}
	if err := util.ValidateFile(afs, resolved); err != nil {
		return nil, err
	}

	contents, err := util.GetFileContents(afs, resolved)
	if err != nil {
		return nil, err
	}

	var records []flow.FlowRecord
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	skipped := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var wire wireFlowRecord
		if err := jsonAPI.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := flow.FlowRecord{
			Timestamp:   wire.Timestamp,
			SrcAddr:     net.ParseIP(wire.SrcAddr),
			DstAddr:     net.ParseIP(wire.DstAddr),
			SrcPort:     wire.SrcPort,
			DstPort:     wire.DstPort,
			Protocol:    flow.Protocol(wire.Protocol),
			Action:      flow.Action(wire.Action),
			PacketCount: wire.PacketCount,
			ByteCount:   wire.ByteCount,
		}
		if wire.DurationSec > 0 {
			rec.Duration = time.Duration(wire.DurationSec * float64(time.Second))
			rec.HasDur = true
		}

		if rec.Validate() != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		logger.GetLogger().Warn().Int("skipped", skipped).Str("path", resolved).Msg("skipped malformed flow records")
	}

	return records, nil
}
