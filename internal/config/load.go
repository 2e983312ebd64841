package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/drkit/internal/cryptoutil"
)

const (
	envPrefix = "DRKIT"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv("DRKIT_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but DRKIT_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("DRKIT_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"drkit.yaml",
		"drkit.yml",
		"drkit.toml",
		"drkit.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "drkit")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"drkit.yaml.enc", "drkit.yml.enc", "drkit.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch {
	case strings.HasSuffix(trimmed, ".toml"):
		return "toml"
	case strings.HasSuffix(trimmed, ".json"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "2h")
	vp.SetDefault("global.lock_dir", "")
	vp.SetDefault("global.compose_file", "")
	vp.SetDefault("global.compose_project", "")

	vp.SetDefault("database.enabled", true)
	vp.SetDefault("database.host", "localhost")
	vp.SetDefault("database.port", 5432)
	vp.SetDefault("database.username", "postgres")
	vp.SetDefault("database.password", "")
	vp.SetDefault("database.database", "app")
	vp.SetDefault("database.ssl_mode", "")
	vp.SetDefault("database.connection_timeout", "10s")

	vp.SetDefault("cache.enabled", true)
	vp.SetDefault("cache.host", "localhost")
	vp.SetDefault("cache.port", 6379)
	vp.SetDefault("cache.username", "")
	vp.SetDefault("cache.password", "")
	vp.SetDefault("cache.db", 0)
	vp.SetDefault("cache.container", "")
	vp.SetDefault("cache.rdb_path", "/data/dump.rdb")
	vp.SetDefault("cache.save_grace", "5s")
	vp.SetDefault("cache.dial_timeout", "5s")
	vp.SetDefault("cache.command_timeout", "10s")

	vp.SetDefault("storage.local.path", "./backups")
	vp.SetDefault("storage.s3.endpoint", "s3.amazonaws.com")
	vp.SetDefault("storage.s3.region", "")
	vp.SetDefault("storage.s3.bucket", "")
	vp.SetDefault("storage.s3.namespace", "backups")
	vp.SetDefault("storage.s3.access_key", "")
	vp.SetDefault("storage.s3.secret_key", "")
	vp.SetDefault("storage.s3.use_ssl", true)

	vp.SetDefault("retention.hourly", 24)
	vp.SetDefault("retention.daily", 7)
	vp.SetDefault("retention.weekly", 4)
	vp.SetDefault("retention.monthly", 12)
	vp.SetDefault("retention.manual", 10)
	vp.SetDefault("retention.startup", 5)
	vp.SetDefault("retention.quick", 5)

	vp.SetDefault("backup.compression_level", 6)
	vp.SetDefault("backup.upload_retries", 3)
	vp.SetDefault("backup.upload_backoff", "5s")
	vp.SetDefault("backup.parallel", true)

	vp.SetDefault("restore.timeout", "30m")
	vp.SetDefault("restore.services.postgres", []string{"backend", "ai-engine"})
	vp.SetDefault("restore.services.redis", []string{"redis"})

	vp.SetDefault("schedule.enabled", true)
	vp.SetDefault("schedule.timezone", "")
	vp.SetDefault("schedule.hourly_interval", "1h")
	vp.SetDefault("schedule.daily_hour", 2)
	vp.SetDefault("schedule.weekly_day", "sunday")
	vp.SetDefault("schedule.weekly_hour", 3)
	vp.SetDefault("schedule.monthly_day", 1)
	vp.SetDefault("schedule.monthly_hour", 4)
	vp.SetDefault("schedule.poll_interval", "1h")
	vp.SetDefault("schedule.run_on_startup", true)

	vp.SetDefault("notifications.email.host", "")
	vp.SetDefault("notifications.email.port", 587)
	vp.SetDefault("notifications.email.username", "")
	vp.SetDefault("notifications.email.password", "")
	vp.SetDefault("notifications.email.from", "")
	vp.SetDefault("notifications.email.to", []string{})

	vp.SetDefault("server.addr", "127.0.0.1:9090")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Restore.Timeout == 0 {
		cfg.Restore.Timeout = 30 * time.Minute
	}
	if cfg.Cache.SaveGrace == 0 {
		cfg.Cache.SaveGrace = 5 * time.Second
	}
	if cfg.Schedule.HourlyInterval == 0 {
		cfg.Schedule.HourlyInterval = time.Hour
	}
	if cfg.Schedule.PollInterval == 0 {
		cfg.Schedule.PollInterval = time.Hour
	}
	if cfg.Backup.UploadBackoff == 0 {
		cfg.Backup.UploadBackoff = 5 * time.Second
	}
}

func expandEnv(cfg *Config) {
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Database.Username = os.ExpandEnv(cfg.Database.Username)
	cfg.Cache.Password = os.ExpandEnv(cfg.Cache.Password)
	cfg.Storage.S3.AccessKey = os.ExpandEnv(cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = os.ExpandEnv(cfg.Storage.S3.SecretKey)
	cfg.Storage.S3.SessionToken = os.ExpandEnv(cfg.Storage.S3.SessionToken)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	cfg.Email.Password = os.ExpandEnv(cfg.Email.Password)
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = os.ExpandEnv(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
