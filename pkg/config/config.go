// Package config loads the server configuration from YAML, applies
// defaults, and validates operator-tunable bounds.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Logging   Logging   `yaml:"logging"`
	Database  Database  `yaml:"database"`
	NATS      NATS      `yaml:"nats"`
	Metadata  Metadata  `yaml:"metadata"`
	Downloads Downloads `yaml:"downloads"`
	Import    Import    `yaml:"import"`
	Providers Providers `yaml:"providers"`
}

// Logging configures the structured logger.
type Logging struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Database configures the SQLite store shared by the event log,
// checkpoints, and projections.
type Database struct {
	Path    string `yaml:"path"`
	WALMode bool   `yaml:"wal_mode"`
}

// NATS configures the event bus.
type NATS struct {
	// Embedded runs an in-process server; URL is ignored then.
	Embedded bool   `yaml:"embedded"`
	URL      string `yaml:"url"`
	StoreDir string `yaml:"store_dir"`
	Stream   string `yaml:"stream"`
}

// Metadata configures the catalog client.
type Metadata struct {
	BaseURL       string        `yaml:"base_url"`
	UserAgent     string        `yaml:"user_agent"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// Downloads configures the acquisition pipeline.
type Downloads struct {
	Slots            int    `yaml:"slots"`
	WorkDir          string `yaml:"work_dir"`
	LibraryDir       string `yaml:"library_dir"`
	Format           string `yaml:"format"`
	MinBitrateKbps   int    `yaml:"min_bitrate_kbps"`
	TransferAttempts int    `yaml:"transfer_attempts"`
}

// Import configures the artist importer.
type Import struct {
	Parallelism int `yaml:"parallelism"`
}

// Providers configures the acquisition backends. A backend with an
// empty URL is not wired.
type Providers struct {
	Slskd       Slskd       `yaml:"slskd"`
	SABnzbd     SABnzbd     `yaml:"sabnzbd"`
	QBittorrent QBittorrent `yaml:"qbittorrent"`
	Prowlarr    Prowlarr    `yaml:"prowlarr"`
}

type Slskd struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type SABnzbd struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	IndexerURL string `yaml:"indexer_url"`
	IndexerKey string `yaml:"indexer_key"`
}

type QBittorrent struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Prowlarr struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Database: Database{
			Path:    "tonearm.db",
			WALMode: true,
		},
		NATS: NATS{
			Embedded: true,
			Stream:   "TONEARM_EVENTS",
		},
		Metadata: Metadata{
			BaseURL:       "https://musicbrainz.org/ws/2",
			UserAgent:     "tonearm/1.0",
			LookupTimeout: 10 * time.Second,
		},
		Downloads: Downloads{
			Slots:            3,
			WorkDir:          "work",
			LibraryDir:       "library",
			TransferAttempts: 3,
		},
		Import: Import{
			Parallelism: 4,
		},
	}
}

// Load reads path, layers it over the defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks operator-tunable bounds.
func (c Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Downloads.Slots <= 0 || c.Downloads.Slots > 64 {
		return fmt.Errorf("downloads.slots: %d outside [1, 64]", c.Downloads.Slots)
	}
	if c.Downloads.TransferAttempts <= 0 {
		return fmt.Errorf("downloads.transfer_attempts must be positive")
	}
	if c.Import.Parallelism <= 0 {
		return fmt.Errorf("import.parallelism must be positive")
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url required when nats.embedded is false")
	}
	return nil
}
