package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/confirmation"
	"omnicrm-backup/internal/display"
	"omnicrm-backup/internal/logging"
)

var (
	restoreNoVerify bool
	restoreYes      bool
)

// restoreCmd restores the datastore from an artifact
var restoreCmd = &cobra.Command{
	Use:   "restore <artifact>",
	Short: "Restore the datastore from a backup",
	Long: `Restore the datastore from a backup artifact.

The artifact may be a catalog filename or a path. Unless --no-verify is
given, its checksum is compared with the catalog before anything else
happens. Decryption and decompression run in a private work directory; the
stored artifact is never modified.

WARNING: a restore replaces the current contents of the datastore. The
command asks for confirmation unless --yes is given.

Examples:
  # Restore a cataloged backup
  omnicrm-backup restore omnicrm_backup_20250101_020000.sql.gz.enc

  # Restore an artifact copied in from elsewhere, skipping the catalog check
  omnicrm-backup restore /mnt/nas/omnicrm_backup_20250101_020000.db.gz --no-verify

  # Restore from a script without prompting
  omnicrm-backup restore omnicrm_backup_20250101_020000.sql.gz --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreNoVerify, "no-verify", false, "skip the catalog checksum check")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "restore without asking for confirmation")
}

// runRestore runs the reverse pipeline
func runRestore(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plan := confirmation.RestorePlan{
		Artifact:       args[0],
		Backend:        a.manager.Backend().Name(),
		Datastore:      logging.RedactURL(a.cfg.Database.URL),
		VerifyChecksum: !restoreNoVerify,
	}
	if record, err := a.manager.Catalog().Find(ctx, filepath.Base(args[0])); err == nil {
		plan.Record = record
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	colors := display.NoColors()
	if !noColor {
		colors = display.NewColors(cmd.ErrOrStderr(), display.ThemeByName(theme))
	}
	prompt := confirmation.NewService(cmd.InOrStdin(), cmd.ErrOrStderr(), colors, interactive)

	ok, err := prompt.ConfirmRestore(ctx, plan, restoreYes)
	if err != nil {
		return err
	}
	if !ok {
		a.printer.Warning("Restore aborted, the datastore was not touched")
		return nil
	}

	result, err := a.manager.Restore(ctx, backup.RestoreRequest{
		File:           args[0],
		VerifyChecksum: !restoreNoVerify,
	})
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return a.printer.Restore(result)
}
