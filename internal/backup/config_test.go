package backup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Config{}
	cfg.Database.URL = "postgresql://crm@localhost/omnicrm"
	cfg.SetDefaults()
	return cfg
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, "./backups", cfg.Backup.Directory)
	assert.Equal(t, DefaultPrefix, cfg.Backup.Prefix)
	assert.Equal(t, DefaultCatalogFile, cfg.Backup.CatalogFile)
	assert.Equal(t, CompressionTypeGzip, cfg.Compression.Algorithm)
	assert.Equal(t, DefaultEncryptionChunkSize, cfg.Encryption.ChunkSize)
	assert.Equal(t, StorageProviderNone, cfg.Storage.Provider)
	assert.Equal(t, "AES256", cfg.Storage.S3.ServerSideEncryption)
	assert.Equal(t, "backups/", cfg.Storage.S3.Prefix)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.Interval)
	assert.Equal(t, 5, cfg.Schedule.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.InitialBackoff)
	assert.Equal(t, time.Hour, cfg.Schedule.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Schedule.BackoffMultiplier)
	assert.Equal(t, AlertSeverityWarning, cfg.Notifications.MinSeverity)
	assert.Equal(t, "pg_dump", cfg.Database.PgDumpPath)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "defaults with a database",
			mutate: func(c *Config) {},
		},
		{
			name:   "missing database url",
			mutate: func(c *Config) { c.Database.URL = "" },
			fields: []string{"database.url"},
		},
		{
			name:   "unknown compression",
			mutate: func(c *Config) { c.Compression.Algorithm = "brotli" },
			fields: []string{"compression.algorithm"},
		},
		{
			name:   "scheduled encryption without a key",
			mutate: func(c *Config) { c.Schedule.Encrypt = true },
			fields: []string{"encryption"},
		},
		{
			name: "scheduled encryption with a passphrase",
			mutate: func(c *Config) {
				c.Schedule.Encrypt = true
				c.Encryption.Passphrase = "secret"
			},
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Storage.Provider = StorageProviderS3
				c.Storage.S3.Region = "eu-west-1"
			},
			fields: []string{"storage.s3.bucket"},
		},
		{
			name: "local mirror without path",
			mutate: func(c *Config) {
				c.Storage.Mirrors = []StorageProviderType{StorageProviderLocal}
			},
			fields: []string{"storage.local.path"},
		},
		{
			name:   "negative retention",
			mutate: func(c *Config) { c.Retention.Days = -1 },
			fields: []string{"retention.days"},
		},
		{
			name:   "retention beyond the maximum",
			mutate: func(c *Config) { c.Retention.Days = MaxRetentionDays + 1 },
			fields: []string{"retention.days"},
		},
		{
			name:   "maximum retention",
			mutate: func(c *Config) { c.Retention.Days = MaxRetentionDays },
		},
		{
			name: "max backoff below initial",
			mutate: func(c *Config) {
				c.Schedule.InitialBackoff = time.Hour
				c.Schedule.MaxBackoff = time.Minute
			},
			fields: []string{"schedule.max_backoff"},
		},
		{
			name:   "valid cron",
			mutate: func(c *Config) { c.Schedule.Cron = "30 2 * * *" },
		},
		{
			name:   "invalid cron",
			mutate: func(c *Config) { c.Schedule.Cron = "every night" },
			fields: []string{"schedule.cron"},
		},
		{
			name:   "unknown severity",
			mutate: func(c *Config) { c.Notifications.MinSeverity = "loud" },
			fields: []string{"notifications.min_severity"},
		},
		{
			name:   "audit without file",
			mutate: func(c *Config) { c.Audit.Enabled = true },
			fields: []string{"audit.file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var validationErrs ValidationErrors
			require.True(t, errors.As(err, &validationErrs), "got %v", err)
			var fields []string
			for _, e := range validationErrs {
				fields = append(fields, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, fields)
		})
	}
}

func TestParseCronSchedule(t *testing.T) {
	schedule, err := ParseCronSchedule("")
	require.NoError(t, err)
	assert.Nil(t, schedule)

	schedule, err = ParseCronSchedule("@daily")
	require.NoError(t, err)
	from := time.Date(2024, 1, 31, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), schedule.Next(from))

	schedule, err = ParseCronSchedule("30 2 * * 1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 5, 2, 30, 0, 0, time.UTC), schedule.Next(from))

	_, err = ParseCronSchedule("61 * * * *")
	assert.True(t, IsType(err, BackupErrorTypeValidation))
}
