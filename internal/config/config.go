// Package config loads lagoon config from YAML. Env overrides take precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoints are the POS API endpoints provisioned at lake creation.
// "bilgetFiscalInvoice" is the verbatim upstream endpoint name, typo included.
var DefaultEndpoints = []string{
	"bilgetFiscalInvoice",
	"getGuestChecks",
	"getChargeBack",
	"getTransactions",
	"getCashManagementDetails",
}

// ZoneNames maps the six logical zones to their on-disk directory names.
// Consumers of the tree rely on these strings; change them only for a
// brand-new lake.
type ZoneNames struct {
	Raw       string `yaml:"raw"`
	Processed string `yaml:"processed"`
	Schemas   string `yaml:"schemas"`
	Metadata  string `yaml:"metadata"`
	Archive   string `yaml:"archive"`
	Temp      string `yaml:"temp"`
}

// RetentionConf controls cleanup and archival of raw-zone partitions.
type RetentionConf struct {
	// Days is the raw-zone retention window for cleanup. 0 disables cleanup.
	Days int `yaml:"days"`

	// ArchiveAfterDays moves raw partitions older than this into the archive
	// zone (zstd-compressed) when the archive operation runs. 0 disables it.
	ArchiveAfterDays int `yaml:"archive_after_days"`
}

// S3Conf configures the S3 replication target. Endpoint and PathStyle are
// for S3-compatible services (MinIO etc.).
type S3Conf struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	PathStyle    bool   `yaml:"path_style"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
}

// BackupConf configures local snapshots and off-box replication.
type BackupConf struct {
	// Dir is the destination root for local snapshots.
	Dir string `yaml:"dir"`

	// FolderTarget, when set, replicates snapshots into this directory
	// through the object-store codec (useful for NFS/rsync targets).
	FolderTarget string `yaml:"folder_target"`

	// S3 is the optional S3 replication target.
	S3 S3Conf `yaml:"s3"`
}

// CatalogConf configures the SQLite metadata catalog.
type CatalogConf struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConf configures the zerolog output.
type LoggingConf struct {
	// Level: trace, debug, info, warn, error. Default info.
	Level string `yaml:"level"`

	// Format: "json" (default) or "console".
	Format string `yaml:"format"`
}

// Config holds resolved paths and settings for one lake.
type Config struct {
	// LakeID names this lake inside replication targets; objects land under
	// lakes/<lake_id>/. Several lakes can share one bucket.
	LakeID string `yaml:"lake_id"`

	// BaseDir is the root of the lake tree; all six zones live under it.
	BaseDir string `yaml:"base_dir"`

	Zones     ZoneNames `yaml:"zones"`
	Endpoints []string  `yaml:"endpoints"`

	// SchemaVersion is stamped into every record envelope.
	SchemaVersion string `yaml:"schema_version"`

	Retention RetentionConf `yaml:"retention"`
	Backup    BackupConf    `yaml:"backup"`
	Catalog   CatalogConf   `yaml:"catalog"`
	Logging   LoggingConf   `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LakeID:  "default",
		BaseDir: filepath.Join("data", "lake"),
		Zones: ZoneNames{
			Raw:       "raw",
			Processed: "processed",
			Schemas:   "schemas",
			Metadata:  "metadata",
			Archive:   "archive",
			Temp:      "temp",
		},
		Endpoints:     append([]string(nil), DefaultEndpoints...),
		SchemaVersion: "1.0",
		Retention: RetentionConf{
			Days:             90,
			ArchiveAfterDays: 30,
		},
		Backup: BackupConf{
			Dir: filepath.Join("data", "backups"),
		},
		Logging: LoggingConf{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from path. An empty path falls back to $LAGOON_CONFIG,
// then $XDG_CONFIG_HOME/lagoon/config.yaml. A missing file uses defaults.
// Env overrides: LAGOON_BASE_DIR, LAGOON_BACKUP_DIR, LAGOON_LAKE_ID.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LAGOON_CONFIG")
	}
	if path == "" {
		path = filepath.Join(xdgConfigHome(), "lagoon", "config.yaml")
	}

	c := Default()

	b, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Env overrides
	if v := os.Getenv("LAGOON_BASE_DIR"); v != "" {
		c.BaseDir = v
	}
	if v := os.Getenv("LAGOON_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("LAGOON_LAKE_ID"); v != "" {
		c.LakeID = v
	}

	c.BaseDir = resolvePath(c.BaseDir)
	c.Backup.Dir = resolvePath(c.Backup.Dir)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return c, nil
}

// Validate rejects configurations the lake cannot run with.
func (c *Config) Validate() error {
	if c.LakeID == "" {
		return fmt.Errorf("lake_id must not be empty")
	}
	if c.LakeID != filepath.Base(c.LakeID) || c.LakeID == "." || c.LakeID == ".." {
		return fmt.Errorf("lake_id %q must be a single path element", c.LakeID)
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	names := []struct {
		zone string
		dir  string
	}{
		{"raw", c.Zones.Raw},
		{"processed", c.Zones.Processed},
		{"schemas", c.Zones.Schemas},
		{"metadata", c.Zones.Metadata},
		{"archive", c.Zones.Archive},
		{"temp", c.Zones.Temp},
	}
	seen := make(map[string]string, len(names))
	for _, n := range names {
		if n.dir == "" {
			return fmt.Errorf("zone %s: directory name must not be empty", n.zone)
		}
		if n.dir != filepath.Base(n.dir) || n.dir == "." || n.dir == ".." {
			return fmt.Errorf("zone %s: directory name %q must be a single path element", n.zone, n.dir)
		}
		if prev, dup := seen[n.dir]; dup {
			return fmt.Errorf("zones %s and %s share directory name %q", prev, n.zone, n.dir)
		}
		seen[n.dir] = n.zone
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	if c.SchemaVersion == "" {
		return fmt.Errorf("schema_version must not be empty")
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must be >= 0, got %d", c.Retention.Days)
	}
	if c.Retention.ArchiveAfterDays < 0 {
		return fmt.Errorf("retention.archive_after_days must be >= 0, got %d", c.Retention.ArchiveAfterDays)
	}
	return nil
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

// resolvePath expands $HOME and $XDG_DATA_HOME in paths from the config file.
func resolvePath(p string) string {
	if p == "" {
		return p
	}
	return filepath.Clean(os.Expand(p, func(key string) string {
		switch key {
		case "HOME":
			home, _ := os.UserHomeDir()
			return home
		case "XDG_DATA_HOME":
			if v := os.Getenv("XDG_DATA_HOME"); v != "" {
				return v
			}
			home, _ := os.UserHomeDir()
			return filepath.Join(home, ".local", "share")
		}
		return ""
	}))
}
