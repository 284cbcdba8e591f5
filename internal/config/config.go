package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/logging"
)

const (
	// AppName is the config file base name and the directory name under $HOME/.config
	AppName = "omnicrm-backup"
	// EnvPrefix prefixes every environment override, e.g. OMNICRM_BACKUP_DATABASE_URL
	EnvPrefix = "OMNICRM_BACKUP"
)

// AppConfig is the effective configuration of the binary: the pipeline
// settings plus the HTTP server and logging sections.
type AppConfig struct {
	backup.Config `mapstructure:",squash" yaml:",inline"`

	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP trigger surface
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig configures the shared logrus logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// LoggerConfig converts the section into a logging.Config
func (lc LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(lc.Level),
		Format:     lc.Format,
		LogFile:    lc.File,
		ShowCaller: lc.ShowCaller,
	}
}

// Loader reads configuration from defaults, a YAML file and the environment.
// Command-line flags are bound onto Viper() by the caller.
type Loader struct {
	viper *viper.Viper
	path  string
}

// NewLoader creates a loader. An empty path searches ./omnicrm-backup.yaml,
// $HOME/.config/omnicrm-backup/omnicrm-backup.yaml and $HOME/omnicrm-backup.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + AppName)
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Loader{viper: v, path: path}
}

// Viper exposes the underlying instance for flag binding
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// ConfigFileUsed returns the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

// Load reads the config file (a missing file in the search path is not an
// error, a missing explicit file is) and decodes the merged result.
func (l *Loader) Load() (*AppConfig, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return nil, backup.NewConfigurationError(fmt.Sprintf("config file %s is not readable", l.path), err)
		}
	}
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, backup.NewConfigurationError("error reading config file", err)
		}
	}

	var cfg AppConfig
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, backup.NewConfigurationError("failed to decode configuration", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// Load is a shortcut for NewLoader(path).Load()
func Load(path string) (*AppConfig, error) {
	return NewLoader(path).Load()
}

// SetDefaults fills unset fields of every section
func (c *AppConfig) SetDefaults() {
	c.Config.SetDefaults()

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// restores and exports run inside the request
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = time.Hour
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the pipeline settings and the sections owned by this package
func (c *AppConfig) Validate() error {
	var errs backup.ValidationErrors
	if err := c.Config.Validate(); err != nil {
		if pipelineErrs, ok := err.(backup.ValidationErrors); ok {
			errs = append(errs, pipelineErrs...)
		} else {
			return err
		}
	}

	if c.Server.Address == "" {
		errs.Add("server.address", "listen address is required", nil)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs.Add("server", "timeouts cannot be negative", nil)
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("logging.level", fmt.Sprintf("unknown log level: %s", c.Logging.Level), c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs.Add("logging.format", "format must be text or json", c.Logging.Format)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// setDefaults registers every key so that AutomaticEnv can override it even
// when the file does not mention it.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("database.url", "")
	v.SetDefault("database.timeout", defaults.Database.Timeout)
	v.SetDefault("database.pg_dump_path", defaults.Database.PgDumpPath)
	v.SetDefault("database.psql_path", defaults.Database.PsqlPath)
	v.SetDefault("database.mysqldump_path", defaults.Database.MysqldumpPath)
	v.SetDefault("database.mysql_path", defaults.Database.MysqlPath)

	v.SetDefault("backup.directory", defaults.Backup.Directory)
	v.SetDefault("backup.prefix", defaults.Backup.Prefix)
	v.SetDefault("backup.catalog_file", defaults.Backup.CatalogFile)
	v.SetDefault("backup.default_compress", defaults.Backup.DefaultCompress)
	v.SetDefault("backup.default_encrypt", defaults.Backup.DefaultEncrypt)
	v.SetDefault("backup.lock_timeout", defaults.Backup.LockTimeout)

	v.SetDefault("compression.algorithm", string(defaults.Compression.Algorithm))
	v.SetDefault("compression.level", defaults.Compression.Level)

	v.SetDefault("encryption.key", "")
	v.SetDefault("encryption.key_file", "")
	v.SetDefault("encryption.key_env_var", "")
	v.SetDefault("encryption.passphrase", "")
	v.SetDefault("encryption.chunk_size", defaults.Encryption.ChunkSize)

	v.SetDefault("storage.provider", string(defaults.Storage.Provider))
	v.SetDefault("storage.mirrors", []string{})
	v.SetDefault("storage.timeout", defaults.Storage.Timeout)
	v.SetDefault("storage.upload_attempts", defaults.Storage.UploadAttempts)
	v.SetDefault("storage.retry_delay", defaults.Storage.RetryDelay)
	v.SetDefault("storage.local.path", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.prefix", defaults.Storage.S3.Prefix)
	v.SetDefault("storage.s3.sse", defaults.Storage.S3.ServerSideEncryption)
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	v.SetDefault("storage.azure.container_name", "")
	v.SetDefault("storage.azure.prefix", defaults.Storage.Azure.Prefix)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.credentials_path", "")
	v.SetDefault("storage.gcs.prefix", defaults.Storage.GCS.Prefix)

	v.SetDefault("retention.days", defaults.Retention.Days)

	v.SetDefault("schedule.interval", defaults.Schedule.Interval)
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.max_retries", defaults.Schedule.MaxRetries)
	v.SetDefault("schedule.initial_backoff", defaults.Schedule.InitialBackoff)
	v.SetDefault("schedule.max_backoff", defaults.Schedule.MaxBackoff)
	v.SetDefault("schedule.backoff_multiplier", defaults.Schedule.BackoffMultiplier)
	v.SetDefault("schedule.compress", defaults.Schedule.Compress)
	v.SetDefault("schedule.encrypt", defaults.Schedule.Encrypt)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.min_severity", string(defaults.Notifications.MinSeverity))
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.method", "POST")
	v.SetDefault("notifications.webhook.timeout", 10*time.Second)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.slack.channel", "")
	v.SetDefault("notifications.slack.username", "")
	v.SetDefault("notifications.file.path", "")
	v.SetDefault("notifications.file.format", "json")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.file", "")

	v.SetDefault("server.address", defaults.Server.Address)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.show_caller", false)
}

// Default returns the configuration used when nothing is set
func Default() AppConfig {
	var cfg AppConfig
	cfg.Backup.DefaultCompress = true
	cfg.Schedule.Compress = true
	cfg.SetDefaults()
	return cfg
}
