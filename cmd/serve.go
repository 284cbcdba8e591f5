package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"omnicrm-backup/internal/api"
	"omnicrm-backup/internal/backup"
)

var (
	serveAddress       string
	serveWithScheduler bool
)

// serveCmd exposes the pipeline over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger surface",
	Long: `Serve the backup pipeline over HTTP.

Routes:
  GET  /healthz                              liveness and scheduler state
  GET  /metrics                              Prometheus metrics
  GET  /api/v1/backups                       list the catalog
  POST /api/v1/backups                       create a backup
  GET  /api/v1/backups/{filename}/verify     verify a backup
  POST /api/v1/restore                       restore from a backup
  POST /api/v1/cleanup                       apply the retention window

With --with-scheduler the daemon runs in the same process and its state is
reported on /healthz.

Examples:
  # Listen on the configured server.address
  omnicrm-backup serve

  # Listen on localhost only and run scheduled backups
  omnicrm-backup serve --address 127.0.0.1:9090 --with-scheduler`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default from server.address)")
	serveCmd.Flags().BoolVar(&serveWithScheduler, "with-scheduler", false, "run the backup daemon in the same process")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveAddress != "" {
		a.cfg.Server.Address = serveAddress
	}

	opts := api.ServerOptions{
		Service:         a.manager,
		Logger:          a.logger,
		DefaultCompress: a.cfg.Backup.DefaultCompress,
		DefaultEncrypt:  a.cfg.Backup.DefaultEncrypt,
		Registerer:      a.registry,
		Gatherer:        a.registry,
	}

	var daemon *backup.Daemon
	if serveWithScheduler {
		daemon, err = a.newDaemon()
		if err != nil {
			return err
		}
		opts.Status = daemon.Status
	}

	server, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, a.cfg.Server)
	})
	if daemon != nil {
		g.Go(func() error {
			return daemon.Run(ctx)
		})
	}
	return g.Wait()
}
