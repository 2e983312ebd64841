package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Restore       RestoreConfig       `mapstructure:"restore"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Server        ServerConfig        `mapstructure:"server"`
}

type GlobalConfig struct {
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"` // json or console
	LockDir           string        `mapstructure:"lock_dir"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase  string        `mapstructure:"config_passphrase"` // optional; may come from env
	AllowMissingTools bool          `mapstructure:"allow_missing_tools"`
	// ComposeFile and ComposeProject address the docker compose stack that runs
	// the protected stores and their consumers.
	ComposeFile    string `mapstructure:"compose_file"`
	ComposeProject string `mapstructure:"compose_project"`
}

type DatabaseConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Container, when set, is the container holding the snapshot; files are
	// moved with "docker cp". Otherwise RDBPath is read and written directly.
	Container      string        `mapstructure:"container"`
	RDBPath        string        `mapstructure:"rdb_path"`
	SaveGrace      time.Duration `mapstructure:"save_grace"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type StorageConfig struct {
	Local LocalStore `mapstructure:"local"`
	S3    S3Store    `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

// S3Store configures the remote copy. An empty Bucket disables it.
type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Namespace       string `mapstructure:"namespace"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

// RetentionConfig holds the keep-count per cadence. Zero disables pruning for
// that cadence.
type RetentionConfig struct {
	Hourly  int `mapstructure:"hourly"`
	Daily   int `mapstructure:"daily"`
	Weekly  int `mapstructure:"weekly"`
	Monthly int `mapstructure:"monthly"`
	Manual  int `mapstructure:"manual"`
	Startup int `mapstructure:"startup"`
	Quick   int `mapstructure:"quick"`
}

type BackupConfig struct {
	CompressionLevel int           `mapstructure:"compression_level"`
	UploadRetries    int           `mapstructure:"upload_retries"`
	UploadBackoff    time.Duration `mapstructure:"upload_backoff"`
	Parallel         bool          `mapstructure:"parallel"`
}

type RestoreConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Services are the dependent consumers stopped around a restore, per source.
	Services RestoreServices `mapstructure:"services"`
}

type RestoreServices struct {
	Postgres []string `mapstructure:"postgres"`
	Redis    []string `mapstructure:"redis"`
}

type ScheduleConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timezone       string        `mapstructure:"timezone"`
	HourlyInterval time.Duration `mapstructure:"hourly_interval"`
	DailyHour      int           `mapstructure:"daily_hour"`
	WeeklyDay      string        `mapstructure:"weekly_day"`
	WeeklyHour     int           `mapstructure:"weekly_hour"`
	MonthlyDay     int           `mapstructure:"monthly_day"`
	MonthlyHour    int           `mapstructure:"monthly_hour"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RunOnStartup   bool          `mapstructure:"run_on_startup"`
}

type NotificationsConfig struct {
	Email      EmailConfig      `mapstructure:"email"`
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}
