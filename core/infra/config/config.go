package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = ":8000"
	defaultMetricsAddr     = ":9092"
	defaultMediaDir        = "media"
	defaultSchemaDir       = "schemas"
	defaultStateSchema     = "ABRSchema_0-2-0.json"
	defaultReceiveSchema   = "ws-receive.json"
	defaultSendSchema      = "ws-send.json"
	defaultVisAssetLibrary = "https://sculptingvis.tacc.utexas.edu/library/"
	defaultDownloadWorkers = 8
	defaultBackupRetention = 24 * time.Hour
	defaultHistoryLimit    = 100

	envHTTPAddr        = "ABR_HTTP_ADDR"
	envMetricsAddr     = "ABR_METRICS_ADDR"
	envMediaDir        = "ABR_MEDIA_DIR"
	envSchemaDir       = "ABR_SCHEMA_DIR"
	envVisAssetLibrary = "ABR_VISASSET_LIBRARY"
	envDownloadAssets  = "ABR_DOWNLOAD_VISASSETS"
	envConfigFile      = "ABR_CONFIG_FILE"
)

// Config holds runtime configuration for the state server.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// MediaDir is the root for visassets, datasets, thumbnails, saved
	// states and the backup file.
	MediaDir  string `yaml:"media_dir"`
	SchemaDir string `yaml:"schema_dir"`

	// StateSchema is the filename (within SchemaDir) of the state schema.
	StateSchema   string `yaml:"state_schema"`
	ReceiveSchema string `yaml:"receive_schema"`
	SendSchema    string `yaml:"send_schema"`

	VisAssetLibrary   string        `yaml:"visasset_library"`
	DownloadVisAssets bool          `yaml:"download_visassets"`
	DownloadWorkers   int           `yaml:"download_workers"`
	BackupRetention   time.Duration `yaml:"backup_retention"`
	HistoryLimit      int           `yaml:"history_limit"`
}

// Load returns configuration from an optional YAML file overlaid with
// environment variables. Environment wins over file, file wins over defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          defaultHTTPAddr,
		MetricsAddr:       defaultMetricsAddr,
		MediaDir:          defaultMediaDir,
		SchemaDir:         defaultSchemaDir,
		StateSchema:       defaultStateSchema,
		ReceiveSchema:     defaultReceiveSchema,
		SendSchema:        defaultSendSchema,
		VisAssetLibrary:   defaultVisAssetLibrary,
		DownloadVisAssets: true,
		DownloadWorkers:   defaultDownloadWorkers,
		BackupRetention:   defaultBackupRetention,
		HistoryLimit:      defaultHistoryLimit,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.DownloadWorkers <= 0 {
		cfg.DownloadWorkers = defaultDownloadWorkers
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = defaultBackupRetention
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envHTTPAddr); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(envMediaDir); v != "" {
		c.MediaDir = v
	}
	if v := os.Getenv(envSchemaDir); v != "" {
		c.SchemaDir = v
	}
	if v := os.Getenv(envVisAssetLibrary); v != "" {
		c.VisAssetLibrary = v
	}
	if v := os.Getenv(envDownloadAssets); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DownloadVisAssets = b
		}
	}
}

// StateSchemaPath returns the full path to the state schema file.
func (c *Config) StateSchemaPath() string {
	return filepath.Join(c.SchemaDir, c.StateSchema)
}

// ReceiveSchemaPath returns the full path to the inbound WS message schema.
func (c *Config) ReceiveSchemaPath() string {
	return filepath.Join(c.SchemaDir, c.ReceiveSchema)
}

// VisAssetDir returns the directory holding downloaded visasset bundles.
func (c *Config) VisAssetDir() string {
	return filepath.Join(c.MediaDir, "visassets")
}

// DatasetDir returns the directory holding imported datasets.
func (c *Config) DatasetDir() string {
	return filepath.Join(c.MediaDir, "datasets")
}

// ThumbnailDir returns the directory holding state thumbnails.
func (c *Config) ThumbnailDir() string {
	return filepath.Join(c.MediaDir, "thumbnails")
}

// StatesDir returns the directory holding named saved states.
func (c *Config) StatesDir() string {
	return filepath.Join(c.MediaDir, "states")
}

// BackupPath returns the path of the rolling state backup file.
func (c *Config) BackupPath() string {
	return filepath.Join(c.MediaDir, "state-backup.json")
}
