package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// Global flag variables
var (
	logLevel     string
	logFormat    string
	noColor      bool
	theme        string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "omnicrm-backup",
	Short: "Backup and restore pipeline for the OmniCRM datastore",
	Long: `OmniCRM Backup produces self-contained snapshots of the CRM datastore,
optionally compressed and encrypted, records a SHA-256 checksum for every
artifact, copies it off-site on a best-effort basis and keeps a catalog of
everything it produced. Restores verify integrity before touching the
datastore, and a retention pass removes artifacts past their window.

PostgreSQL, MySQL and SQLite are supported; the backend is chosen from the
scheme of database.url.

Examples:
  # Write a starter configuration
  omnicrm-backup config init

  # Take a compressed, encrypted backup
  OMNICRM_BACKUP_KEY=$(omnicrm-backup keygen) omnicrm-backup backup create --encrypt

  # Restore the newest artifact from the catalog
  omnicrm-backup restore omnicrm_backup_20250101_020000.sql.gz

  # Run the scheduler together with the HTTP trigger surface
  omnicrm-backup serve --with-scheduler`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./omnicrm-backup.yaml, then $HOME/.config/omnicrm-backup/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (quiet, normal, verbose, debug)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme (dark, light)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "table", "output format (table, json, yaml)")

	rootCmd.AddCommand(createVersionCommand())
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for omnicrm-backup",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "omnicrm-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
