package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tonearm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "info", cfg.Logging.Level)
	require.True(t, cfg.NATS.Embedded)
	require.Equal(t, 3, cfg.Downloads.Slots)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
downloads:
  slots: 8
metadata:
  lookup_timeout: 5s
providers:
  slskd:
    url: http://localhost:5030
    api_key: secret
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 8, cfg.Downloads.Slots)
	require.Equal(t, 5*time.Second, cfg.Metadata.LookupTimeout)
	require.Equal(t, "http://localhost:5030", cfg.Providers.Slskd.URL)

	// Untouched sections keep their defaults.
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "tonearm.db", cfg.Database.Path)
	require.Equal(t, "TONEARM_EVENTS", cfg.NATS.Stream)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "logging: [not a mapping")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "UnknownLogLevel",
			mutate:  func(c *config.Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "UnknownLogFormat",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "EmptyDatabasePath",
			mutate:  func(c *config.Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "ZeroSlots",
			mutate:  func(c *config.Config) { c.Downloads.Slots = 0 },
			wantErr: "downloads.slots",
		},
		{
			name:    "TooManySlots",
			mutate:  func(c *config.Config) { c.Downloads.Slots = 65 },
			wantErr: "downloads.slots",
		},
		{
			name:    "ZeroTransferAttempts",
			mutate:  func(c *config.Config) { c.Downloads.TransferAttempts = 0 },
			wantErr: "downloads.transfer_attempts",
		},
		{
			name:    "ZeroImportParallelism",
			mutate:  func(c *config.Config) { c.Import.Parallelism = 0 },
			wantErr: "import.parallelism",
		},
		{
			name: "RemoteNATSNeedsURL",
			mutate: func(c *config.Config) {
				c.NATS.Embedded = false
				c.NATS.URL = ""
			},
			wantErr: "nats.url",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("BoundarySlotsAccepted", func(t *testing.T) {
		cfg := config.Default()
		cfg.Downloads.Slots = 1
		require.NoError(t, cfg.Validate())
		cfg.Downloads.Slots = 64
		require.NoError(t, cfg.Validate())
	})
}
