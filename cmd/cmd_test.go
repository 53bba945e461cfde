package cmd_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/activecm/flowguard/cmd"
	"github.com/activecm/flowguard/config"
)

func validConfigJSON() string {
	return `{
		env: { db_connection: "localhost:9000" },
		publishing: { outbox_path: "./test-outbox.jsonl" },
	}`
}

func TestValidateConfigPath(t *testing.T) {
	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, "config.hjson", []byte(validConfigJSON()), 0o644))
	require.NoError(t, afero.WriteFile(afs, "empty.hjson", []byte(""), 0o644))

	tests := []struct {
		name        string
		path        string
		expectedErr error
	}{
		{name: "Missing Path", path: "", expectedErr: cmd.ErrMissingConfigPath},
		{name: "Nonexistent File", path: "does-not-exist.hjson"},
		{name: "Empty File", path: "empty.hjson"},
		{name: "Valid File", path: "config.hjson"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := cmd.ValidateConfigPath(afs, test.path)
			switch {
			case test.expectedErr != nil:
				require.ErrorIs(t, err, test.expectedErr)
			case test.name == "Valid File":
				require.NoError(t, err)
			default:
				require.Error(t, err)
			}
		})
	}
}

func TestRunValidateConfigCommand(t *testing.T) {
	afs := afero.NewOsFs()
	cfg, err := config.ReadTestFileConfig(afs, "../config.hjson")
	if err != nil {
		t.Skipf("skipping: could not load ../config.hjson: %v", err)
	}
	require.NotNil(t, cfg)

	got, err := cmd.RunValidateConfigCommand(afs, "../config.hjson")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRunValidateConfigCommandRejectsMissingFile(t *testing.T) {
	afs := afero.NewMemMapFs()
	_, err := cmd.RunValidateConfigCommand(afs, "missing.hjson")
	require.Error(t, err)
}

// TestIngestRoundTrip exercises RunIngestCommand end to end against a live
// ClickHouse instance, skipping if one isn't reachable via ./config.hjson —
// the same convention used by the rest of the archive's integration tests.
func TestIngestRoundTrip(t *testing.T) {
	afs := afero.NewOsFs()
	cfg, err := config.ReadFileConfig(nil, config.DefaultConfigPath)
	if err != nil {
		t.Skipf("skipping ingest test: could not load config: %v", err)
	}

	now := time.Now().UTC()
	record := fmt.Sprintf(
		`{"timestamp":%q,"src_addr":"10.0.0.5","dst_addr":"198.51.100.2","src_port":51234,"dst_port":443,"protocol":"TCP","action":"ACCEPT","packet_count":4,"byte_count":320}`,
		now.Format(time.RFC3339),
	)
	require.NoError(t, afero.WriteFile(afs, "/tmp/flowguard-ingest-test.ndjson", []byte(record+"\n"), 0o644))

	err = cmd.RunIngestCommand(context.Background(), afs, cfg, "flowguard_cmd_test", "/tmp/flowguard-ingest-test.ndjson")
	if err != nil {
		t.Skipf("skipping ingest test: could not connect to clickhouse: %v", err)
	}
}
