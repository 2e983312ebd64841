package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/drkit/internal/app"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/logging"
	"github.com/rowjay/drkit/internal/metrics"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	CacheHost   string
	CachePort   int
	Container   string
	LocalPath   string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    string
	S3PathStyle string
	LockDir     string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "drkit",
		Short:         "Backup, retention and rollback for the dashboard stack",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.DBHost, "db-host", "", "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&overrides.DBPort, "db-port", 0, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVar(&overrides.DBUser, "db-user", "", "PostgreSQL username")
	rootCmd.PersistentFlags().StringVar(&overrides.DBPassword, "db-password", "", "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&overrides.DBName, "db-name", "", "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVar(&overrides.CacheHost, "redis-host", "", "Redis host")
	rootCmd.PersistentFlags().IntVar(&overrides.CachePort, "redis-port", 0, "Redis port")
	rootCmd.PersistentFlags().StringVar(&overrides.Container, "redis-container", "", "Container holding the Redis snapshot")

	rootCmd.PersistentFlags().StringVar(&overrides.LocalPath, "backup-dir", "", "Local backup directory")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket (empty disables remote copies)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.LockDir, "lock-dir", "", "Directory for run lock files")

	rootCmd.AddCommand(newDaemonCmd(root, overrides))
	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newPruneCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newQuickCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and wires the application for one command.
func setup(root *rootFlags, overrides *overrideFlags, rec metrics.Recorder) (*config.Config, zerolog.Logger, *app.App, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	if err := cfg.Validate(); err != nil {
		return nil, logger, nil, err
	}
	appSvc, err := app.New(cfg, logger, rec)
	if err != nil {
		return nil, logger, nil, err
	}
	return cfg, logger, appSvc, nil
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.LockDir != "" {
		cfg.Global.LockDir = overrides.LockDir
	}

	if overrides.DBHost != "" {
		cfg.Database.Host = overrides.DBHost
	}
	if overrides.DBPort != 0 {
		cfg.Database.Port = overrides.DBPort
	}
	if overrides.DBUser != "" {
		cfg.Database.Username = overrides.DBUser
	}
	if overrides.DBPassword != "" {
		cfg.Database.Password = overrides.DBPassword
	}
	if overrides.DBName != "" {
		cfg.Database.Database = overrides.DBName
	}
	if overrides.CacheHost != "" {
		cfg.Cache.Host = overrides.CacheHost
	}
	if overrides.CachePort != 0 {
		cfg.Cache.Port = overrides.CachePort
	}
	if overrides.Container != "" {
		cfg.Cache.Container = overrides.Container
	}

	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = parseBool(overrides.S3UseSSL)
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = parseBool(overrides.S3PathStyle)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
