package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"omnicrm-backup/internal/backup"
)

// daemonCmd runs scheduled backups in the foreground
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled backups until interrupted",
	Long: `Run a backup followed by a retention pass on the configured schedule.

schedule.interval sets a fixed cadence and schedule.cron, when set, takes
precedence. Failed runs are retried with exponential backoff starting at
schedule.initial_backoff and capped at schedule.max_backoff. After
schedule.max_retries consecutive failures a critical alert is sent to the
configured notification channels and the daemon returns to its regular
schedule.

The daemon stops cleanly on SIGINT or SIGTERM.

Examples:
  # Daily backups at 02:30
  OMNICRM_BACKUP_SCHEDULE_CRON="30 2 * * *" omnicrm-backup daemon

  # Every six hours, structured logs
  omnicrm-backup daemon --log-format json`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	daemon, err := a.newDaemon()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx)
}

func (a *app) newDaemon() (*backup.Daemon, error) {
	return backup.NewDaemon(backup.DaemonOptions{
		Service:       a.manager,
		Schedule:      a.cfg.Schedule,
		RetentionDays: a.cfg.Retention.Days,
		Logger:        a.logger,
		Metrics:       a.metrics,
		Alerts:        a.alerts,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
