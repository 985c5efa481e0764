// Package config describes an objmirror configuration and persists it as YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/openmined/objmirror/internal/backup"
	"github.com/openmined/objmirror/internal/reconcile"
	"github.com/openmined/objmirror/internal/store"
	"github.com/openmined/objmirror/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _            = os.UserHomeDir()
	DefaultDir         = filepath.Join(home, ".objmirror")
	DefaultConfigPath  = filepath.Join(DefaultDir, "config.yaml")
	DefaultJournalPath = filepath.Join(DefaultDir, "journal.db")
	DefaultLogFilePath = filepath.Join(DefaultDir, "logs", "objmirror.log")
)

// S3 user metadata keys travel as x-amz-meta-<field> headers.
var metadataFieldRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

type Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
	// MetadataCopy allows baselines to be recorded with a metadata-only
	// CopyObject instead of a re-upload.
	MetadataCopy bool `yaml:"metadata_copy"`

	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	LocalPath string `yaml:"local_path"`

	MetadataField string `yaml:"metadata_field"`
	BackupPolicy  string `yaml:"backup_policy"`
	SeedRemote    bool   `yaml:"seed_remote"`

	// JournalPath is the pass history database. Empty disables the journal.
	JournalPath string `yaml:"journal_path"`
	LogFile     string `yaml:"log_file,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`

	Path string `yaml:"-"`
}

// Default returns a config with every optional field at its default.
func Default() *Config {
	return &Config{
		MetadataCopy:  true,
		MetadataField: reconcile.DefaultMetadataField,
		BackupPolicy:  string(backup.PolicyRotate),
		JournalPath:   DefaultJournalPath,
		Path:          DefaultConfigPath,
	}
}

// Validate checks required fields and normalizes paths and names in place.
func (c *Config) Validate() error {
	var err error

	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Key == "" {
		return errors.New("key is required")
	}
	if strings.HasSuffix(c.Key, "/") {
		return fmt.Errorf("key %q names a prefix, not an object", c.Key)
	}
	if c.Region == "" {
		return errors.New("region is required")
	}

	if c.Endpoint != "" {
		u, perr := url.Parse(c.Endpoint)
		if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid endpoint url %q", c.Endpoint)
		}
	}

	if c.LocalPath == "" {
		return errors.New("local_path is required")
	}
	if c.LocalPath, err = utils.ResolvePath(c.LocalPath); err != nil {
		return fmt.Errorf("invalid local_path: %w", err)
	}

	c.MetadataField = strings.ToLower(strings.TrimSpace(c.MetadataField))
	if c.MetadataField == "" {
		c.MetadataField = reconcile.DefaultMetadataField
	}
	if !metadataFieldRegex.MatchString(c.MetadataField) {
		return fmt.Errorf("invalid metadata_field %q", c.MetadataField)
	}

	policy, err := backup.ParsePolicy(c.BackupPolicy)
	if err != nil {
		return err
	}
	c.BackupPolicy = string(policy)

	if c.JournalPath != "" {
		if c.JournalPath, err = utils.ResolvePath(c.JournalPath); err != nil {
			return fmt.Errorf("invalid journal_path: %w", err)
		}
	}
	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return fmt.Errorf("invalid log_file: %w", err)
		}
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
	}

	return nil
}

// LogValue implements slog.LogValuer with credentials masked.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", c.Path),
		slog.String("region", c.Region),
		slog.String("endpoint", c.Endpoint),
		slog.String("access_key", utils.MaskSecret(c.AccessKey)),
		slog.String("secret_key", utils.MaskSecret(c.SecretKey)),
		slog.String("bucket", c.Bucket),
		slog.String("key", c.Key),
		slog.String("local_path", c.LocalPath),
		slog.String("metadata_field", c.MetadataField),
		slog.String("backup_policy", c.BackupPolicy),
		slog.Bool("seed_remote", c.SeedRemote),
		slog.String("journal_path", c.JournalPath),
	)
}

// S3 returns the store settings.
func (c *Config) S3() *store.S3Config {
	return &store.S3Config{
		Region:              c.Region,
		Endpoint:            c.Endpoint,
		AccessKey:           c.AccessKey,
		SecretKey:           c.SecretKey,
		UsePathStyle:        c.PathStyle,
		DisableMetadataCopy: !c.MetadataCopy,
	}
}

// Reconcile returns the reconciler settings.
func (c *Config) Reconcile() *reconcile.Config {
	return &reconcile.Config{
		Bucket:            c.Bucket,
		Key:               c.Key,
		LocalPath:         c.LocalPath,
		MetadataField:     c.MetadataField,
		BackupPolicy:      backup.Policy(c.BackupPolicy),
		SeedMissingRemote: c.SeedRemote,
	}
}

// Save writes the config to c.Path. Credentials are never written; they come
// from the environment, a .env file or the AWS credential chain.
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is empty")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	out := *c
	out.AccessKey = ""
	out.SecretKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o600)
}

// LoadFromFile reads a config written by Save. Fields absent from the file
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}
