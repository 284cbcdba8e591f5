package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/config"
	"omnicrm-backup/internal/database"
	"omnicrm-backup/internal/display"
	"omnicrm-backup/internal/logging"
)

// app holds everything a command needs once configuration is loaded. The
// pipeline is built only by commands that touch the datastore.
type app struct {
	cfg      *config.AppConfig
	logger   *logging.Logger
	printer  *display.Printer
	registry *prometheus.Registry

	audit   *backup.BackupLogger
	alerts  *backup.NotificationManager
	metrics *backup.Metrics
	manager *backup.Manager
}

// loadConfig reads the file and environment with the global flags layered on top
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	loader := config.NewLoader(cfgFile)
	v := loader.Viper()

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("logging.level", flags.Lookup("log-level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("logging.format", flags.Lookup("log-format")); err != nil {
		return nil, err
	}

	return loader.Load()
}

// newApp loads configuration and builds the logger and printer
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	loggerConfig := cfg.Logging.LoggerConfig()
	loggerConfig.Output = cmd.ErrOrStderr()
	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	format, err := display.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	colors := display.NoColors()
	if !noColor {
		colors = display.NewColors(cmd.OutOrStdout(), display.ThemeByName(theme))
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		printer:  display.NewPrinter(cmd.OutOrStdout(), format, colors),
		registry: prometheus.NewRegistry(),
	}, nil
}

// newPipelineApp validates the configuration and wires the backup manager
func newPipelineApp(cmd *cobra.Command) (*app, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, err
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := a.buildPipeline(cmd.Context()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildPipeline(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backend, err := database.ResolveBackend(a.cfg.Database, database.WithLogger(a.logger))
	if err != nil {
		return err
	}

	uploader, err := backup.NewUploader(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return err
	}

	a.audit, err = backup.NewBackupLogger(backup.BackupLoggerConfig{
		Logger:         a.logger,
		AuditLogFile:   a.cfg.Audit.File,
		EnableAuditLog: a.cfg.Audit.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = backup.NewMetrics(a.registry)
	a.alerts = backup.NewNotificationManager(a.logger, a.cfg.Notifications)

	a.manager, err = backup.NewManager(backup.ManagerOptions{
		Config:   a.cfg.Config,
		Backend:  backend,
		Uploader: uploader,
		Logger:   a.audit,
		Metrics:  a.metrics,
		Alerts:   a.alerts,
	})
	return err
}

// Close releases the audit log
func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close audit log")
		}
	}
}
