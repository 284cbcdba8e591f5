package backup

import (
	"fmt"
	"time"
)

// Config holds everything the pipeline needs. It is populated by
// internal/config from defaults, a YAML file, the environment and flags.
type Config struct {
	Database      DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Backup        PipelineConfig     `mapstructure:"backup" yaml:"backup"`
	Compression   CompressionConfig  `mapstructure:"compression" yaml:"compression"`
	Encryption    EncryptionConfig   `mapstructure:"encryption" yaml:"encryption"`
	Storage       StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Retention     RetentionConfig    `mapstructure:"retention" yaml:"retention"`
	Schedule      ScheduleConfig     `mapstructure:"schedule" yaml:"schedule"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Audit         AuditConfig        `mapstructure:"audit" yaml:"audit"`
}

// DatabaseConfig identifies the datastore being protected. The URL scheme
// selects the backend.
type DatabaseConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PgDumpPath    string        `mapstructure:"pg_dump_path" yaml:"pg_dump_path"`
	PsqlPath      string        `mapstructure:"psql_path" yaml:"psql_path"`
	MysqldumpPath string        `mapstructure:"mysqldump_path" yaml:"mysqldump_path"`
	MysqlPath     string        `mapstructure:"mysql_path" yaml:"mysql_path"`
}

// PipelineConfig controls where artifacts and the catalog live
type PipelineConfig struct {
	Directory       string        `mapstructure:"directory" yaml:"directory"`
	Prefix          string        `mapstructure:"prefix" yaml:"prefix"`
	CatalogFile     string        `mapstructure:"catalog_file" yaml:"catalog_file"`
	DefaultCompress bool          `mapstructure:"default_compress" yaml:"default_compress"`
	DefaultEncrypt  bool          `mapstructure:"default_encrypt" yaml:"default_encrypt"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// CompressionConfig defines compression settings
type CompressionConfig struct {
	Algorithm CompressionType `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int             `mapstructure:"level" yaml:"level"` // 0 selects the codec's maximum
}

// EncryptionConfig defines where the symmetric key comes from. Sources are
// tried in order: KeyRetriever, Key, KeyFile, KeyEnvVar, then Passphrase.
type EncryptionConfig struct {
	Key        string `mapstructure:"key" yaml:"key"` // hex or base64 of 32 bytes
	KeyFile    string `mapstructure:"key_file" yaml:"key_file"`
	KeyEnvVar  string `mapstructure:"key_env_var" yaml:"key_env_var"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
	ChunkSize  int    `mapstructure:"chunk_size" yaml:"chunk_size"`

	// KeyRetriever is a function that retrieves the encryption key
	// This can be overridden for testing or custom key management
	KeyRetriever func() ([]byte, error) `mapstructure:"-" yaml:"-"`
}

// HasKeySource reports whether any key source is configured
func (ec *EncryptionConfig) HasKeySource() bool {
	return ec.KeyRetriever != nil || ec.Key != "" || ec.KeyFile != "" || ec.KeyEnvVar != "" || ec.Passphrase != ""
}

// StorageConfig defines the best-effort upload targets. Provider is the
// primary; Mirrors receive copies as well.
type StorageConfig struct {
	Provider StorageProviderType   `mapstructure:"provider" yaml:"provider"`
	Mirrors  []StorageProviderType `mapstructure:"mirrors" yaml:"mirrors,omitempty"`
	Timeout  time.Duration         `mapstructure:"timeout" yaml:"timeout"`

	// UploadAttempts bounds retries of transient upload failures per provider
	UploadAttempts int           `mapstructure:"upload_attempts" yaml:"upload_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	Local LocalConfig `mapstructure:"local" yaml:"local"`
	S3    S3Config    `mapstructure:"s3" yaml:"s3"`
	Azure AzureConfig `mapstructure:"azure" yaml:"azure"`
	GCS   GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
}

// LocalConfig for a mirror directory on a local or mounted filesystem
type LocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket               string `mapstructure:"bucket" yaml:"bucket"`
	Region               string `mapstructure:"region" yaml:"region"`
	AccessKey            string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey            string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint             string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Prefix               string `mapstructure:"prefix" yaml:"prefix"`
	ServerSideEncryption string `mapstructure:"sse" yaml:"sse"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}

// RetentionConfig defines backup retention policies
type RetentionConfig struct {
	Days int `mapstructure:"days" yaml:"days"`
}

// ScheduleConfig drives the daemon
type ScheduleConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	Cron              string        `mapstructure:"cron" yaml:"cron,omitempty"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	Compress          bool          `mapstructure:"compress" yaml:"compress"`
	Encrypt           bool          `mapstructure:"encrypt" yaml:"encrypt"`
}

// AuditConfig controls the JSON audit trail written by BackupLogger
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	File    string `mapstructure:"file" yaml:"file"`
}

// SetDefaults fills every unset field with its default
func (c *Config) SetDefaults() {
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 30 * time.Minute
	}
	if c.Database.PgDumpPath == "" {
		c.Database.PgDumpPath = "pg_dump"
	}
	if c.Database.PsqlPath == "" {
		c.Database.PsqlPath = "psql"
	}
	if c.Database.MysqldumpPath == "" {
		c.Database.MysqldumpPath = "mysqldump"
	}
	if c.Database.MysqlPath == "" {
		c.Database.MysqlPath = "mysql"
	}

	if c.Backup.Directory == "" {
		c.Backup.Directory = "./backups"
	}
	if c.Backup.Prefix == "" {
		c.Backup.Prefix = DefaultPrefix
	}
	if c.Backup.CatalogFile == "" {
		c.Backup.CatalogFile = DefaultCatalogFile
	}
	if c.Backup.LockTimeout == 0 {
		c.Backup.LockTimeout = 10 * time.Minute
	}

	if c.Compression.Algorithm == "" || c.Compression.Algorithm == CompressionTypeNone {
		c.Compression.Algorithm = CompressionTypeGzip
	}

	if c.Encryption.ChunkSize == 0 {
		c.Encryption.ChunkSize = DefaultEncryptionChunkSize
	}

	if c.Storage.Provider == "" {
		c.Storage.Provider = StorageProviderNone
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = 15 * time.Minute
	}
	if c.Storage.UploadAttempts == 0 {
		c.Storage.UploadAttempts = 3
	}
	if c.Storage.RetryDelay == 0 {
		c.Storage.RetryDelay = 2 * time.Second
	}
	if c.Storage.S3.Prefix == "" {
		c.Storage.S3.Prefix = defaultObjectPrefix
	}
	if c.Storage.S3.ServerSideEncryption == "" {
		c.Storage.S3.ServerSideEncryption = "AES256"
	}
	if c.Storage.GCS.Prefix == "" {
		c.Storage.GCS.Prefix = defaultObjectPrefix
	}
	if c.Storage.Azure.Prefix == "" {
		c.Storage.Azure.Prefix = defaultObjectPrefix
	}

	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}

	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = 24 * time.Hour
	}
	if c.Schedule.MaxRetries == 0 {
		c.Schedule.MaxRetries = 5
	}
	if c.Schedule.InitialBackoff == 0 {
		c.Schedule.InitialBackoff = 5 * time.Minute
	}
	if c.Schedule.MaxBackoff == 0 {
		c.Schedule.MaxBackoff = time.Hour
	}
	if c.Schedule.BackoffMultiplier == 0 {
		c.Schedule.BackoffMultiplier = 2
	}

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = AlertSeverityWarning
	}
}

// Validate validates the Config
func (c *Config) Validate() error {
	var errors ValidationErrors

	if c.Database.URL == "" {
		errors.Add("database.url", "database URL is required", nil)
	}
	if c.Database.Timeout < 0 {
		errors.Add("database.timeout", "timeout cannot be negative", c.Database.Timeout)
	}

	if c.Backup.Directory == "" {
		errors.Add("backup.directory", "backup directory is required", nil)
	}
	if c.Backup.Prefix == "" {
		errors.Add("backup.prefix", "artifact prefix is required", nil)
	}

	switch c.Compression.Algorithm {
	case CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
	default:
		errors.Add("compression.algorithm", fmt.Sprintf("unsupported compression algorithm: %s", c.Compression.Algorithm), c.Compression.Algorithm)
	}
	if c.Compression.Level < 0 {
		errors.Add("compression.level", "compression level cannot be negative", c.Compression.Level)
	}

	if c.Encryption.ChunkSize < 0 || c.Encryption.ChunkSize > maxEncryptionChunkSize {
		errors.Add("encryption.chunk_size", fmt.Sprintf("chunk size must be between 1 and %d bytes", maxEncryptionChunkSize), c.Encryption.ChunkSize)
	}
	if (c.Backup.DefaultEncrypt || c.Schedule.Encrypt) && !c.Encryption.HasKeySource() {
		errors.Add("encryption", "encryption is enabled by default but no key source is configured", nil)
	}

	if c.Storage.UploadAttempts < 0 {
		errors.Add("storage.upload_attempts", "upload attempts cannot be negative", c.Storage.UploadAttempts)
	}
	for _, provider := range c.Storage.providers() {
		c.Storage.validateProvider(provider, &errors)
	}

	if c.Retention.Days < 1 {
		errors.Add("retention.days", "retention must keep backups for at least one day", c.Retention.Days)
	} else if c.Retention.Days > MaxRetentionDays {
		errors.Add("retention.days", fmt.Sprintf("retention cannot exceed %d days", MaxRetentionDays), c.Retention.Days)
	}

	if c.Schedule.Interval <= 0 {
		errors.Add("schedule.interval", "interval must be positive", c.Schedule.Interval)
	}
	if c.Schedule.MaxRetries < 0 {
		errors.Add("schedule.max_retries", "max retries cannot be negative", c.Schedule.MaxRetries)
	}
	if c.Schedule.InitialBackoff <= 0 {
		errors.Add("schedule.initial_backoff", "initial backoff must be positive", c.Schedule.InitialBackoff)
	}
	if c.Schedule.MaxBackoff < c.Schedule.InitialBackoff {
		errors.Add("schedule.max_backoff", "max backoff cannot be shorter than the initial backoff", c.Schedule.MaxBackoff)
	}
	if c.Schedule.BackoffMultiplier < 1 {
		errors.Add("schedule.backoff_multiplier", "multiplier must be at least 1", c.Schedule.BackoffMultiplier)
	}
	if c.Schedule.Cron != "" {
		if _, err := ParseCronSchedule(c.Schedule.Cron); err != nil {
			errors.Add("schedule.cron", err.Error(), c.Schedule.Cron)
		}
	}

	switch c.Notifications.MinSeverity {
	case AlertSeverityInfo, AlertSeverityWarning, AlertSeverityCritical:
	default:
		errors.Add("notifications.min_severity", "severity must be info, warning or critical", c.Notifications.MinSeverity)
	}

	if c.Audit.Enabled && c.Audit.File == "" {
		errors.Add("audit.file", "audit file is required when auditing is enabled", nil)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// providers lists the primary provider followed by every distinct mirror
func (sc *StorageConfig) providers() []StorageProviderType {
	var out []StorageProviderType
	seen := make(map[StorageProviderType]bool)
	for _, p := range append([]StorageProviderType{sc.Provider}, sc.Mirrors...) {
		if p == "" || p == StorageProviderNone || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (sc *StorageConfig) validateProvider(provider StorageProviderType, errors *ValidationErrors) {
	switch provider {
	case StorageProviderLocal:
		if sc.Local.Path == "" {
			errors.Add("storage.local.path", "local mirror path is required", nil)
		}
	case StorageProviderS3:
		if sc.S3.Bucket == "" {
			errors.Add("storage.s3.bucket", "bucket name is required", nil)
		}
		if sc.S3.Region == "" {
			errors.Add("storage.s3.region", "region is required", nil)
		}
	case StorageProviderAzure:
		if sc.Azure.AccountName == "" {
			errors.Add("storage.azure.account_name", "account name is required", nil)
		}
		if sc.Azure.AccountKey == "" {
			errors.Add("storage.azure.account_key", "account key is required", nil)
		}
		if sc.Azure.ContainerName == "" {
			errors.Add("storage.azure.container_name", "container name is required", nil)
		}
	case StorageProviderGCS:
		if sc.GCS.Bucket == "" {
			errors.Add("storage.gcs.bucket", "bucket name is required", nil)
		}
	default:
		errors.Add("storage.provider", fmt.Sprintf("unsupported storage provider: %s", provider), provider)
	}
}
