package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/openmined/objmirror/internal/config"
	"github.com/openmined/objmirror/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "OBJMIRROR"

// flagKeys binds config keys to the flags that override them.
var flagKeys = map[string]string{
	"bucket":         "bucket",
	"key":            "key",
	"local_path":     "local-path",
	"region":         "region",
	"endpoint":       "endpoint",
	"path_style":     "path-style",
	"metadata_copy":  "metadata-copy",
	"metadata_field": "metadata-field",
	"backup_policy":  "backup-policy",
	"seed_remote":    "seed-remote",
	"journal_path":   "journal",
	"log_file":       "log-file",
	"log_level":      "log-level",
}

// resolveConfigPath honours, in order, the --config flag, OBJMIRROR_CONFIG_PATH
// and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath
}

// loadConfig merges defaults, the config file, the environment and flags,
// in increasing order of precedence. It does not validate.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if f := cmd.Flag("env-file"); f != nil && f.Value.String() != "" {
		envFile := f.Value.String()
		if utils.FileExists(envFile) {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if f.Changed {
			return nil, fmt.Errorf("env file %s not found", envFile)
		}
	}

	v := viper.New()

	defaults := config.Default()
	v.SetDefault("metadata_copy", defaults.MetadataCopy)
	v.SetDefault("metadata_field", defaults.MetadataField)
	v.SetDefault("backup_policy", defaults.BackupPolicy)
	v.SetDefault("journal_path", defaults.JournalPath)
	v.SetDefault("log_level", "info")

	// a missing file is fine: init creates it, and every key has another source
	configPath := resolveConfigPath(cmd)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	for key, flag := range flagKeys {
		if f := cmd.Flag(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// fall back to the standard AWS variable for the region
	if err := v.BindEnv("region", envPrefix+"_REGION", "AWS_REGION", "AWS_DEFAULT_REGION"); err != nil {
		return nil, err
	}

	return &config.Config{
		Region:        v.GetString("region"),
		Endpoint:      v.GetString("endpoint"),
		AccessKey:     v.GetString("access_key"),
		SecretKey:     v.GetString("secret_key"),
		PathStyle:     v.GetBool("path_style"),
		MetadataCopy:  v.GetBool("metadata_copy"),
		Bucket:        v.GetString("bucket"),
		Key:           v.GetString("key"),
		LocalPath:     v.GetString("local_path"),
		MetadataField: v.GetString("metadata_field"),
		BackupPolicy:  v.GetString("backup_policy"),
		SeedRemote:    v.GetBool("seed_remote"),
		JournalPath:   v.GetString("journal_path"),
		LogFile:       v.GetString("log_file"),
		LogLevel:      v.GetString("log_level"),
		Path:          configPath,
	}, nil
}
