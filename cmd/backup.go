package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"omnicrm-backup/internal/backup"
)

var (
	// Backup creation flags
	backupType     string
	backupCompress bool
	backupEncrypt  bool

	// Cleanup flags
	cleanupRetentionDays int
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, verify and clean up backups",
	Long: `Create, list, verify and clean up backups of the OmniCRM datastore.

Every backup produces a single artifact in backup.directory named
<prefix>_<YYYYMMDD_HHMMSS><ext>, where the extension records the
transformations applied (.sql or .db, then .gz, then .enc). A catalog entry
with the artifact's SHA-256 checksum is appended once the artifact is final.

Examples:
  # Create a full backup with the configured defaults
  omnicrm-backup backup create

  # List the catalog as JSON
  omnicrm-backup backup list --format json

  # Check an artifact against its recorded checksum
  omnicrm-backup backup verify omnicrm_backup_20250101_020000.sql.gz.enc

  # Delete artifacts older than 14 days
  omnicrm-backup backup cleanup --retention-days 14`,
}

// backupCreateCmd creates a new backup
var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new backup",
	Long: `Create a new backup of the configured datastore.

The snapshot is exported, optionally compressed and encrypted, checksummed
and copied to the configured storage provider. A failed upload does not
fail the backup; the record is kept with a null cloud_url.

Examples:
  # Create a backup using backup.default_compress and backup.default_encrypt
  omnicrm-backup backup create

  # Create an uncompressed, encrypted backup
  omnicrm-backup backup create --compress=false --encrypt`,
	Args: cobra.NoArgs,
	RunE: runBackupCreate,
}

// backupListCmd lists the catalog
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged backups",
	Long: `List every backup recorded in the catalog, oldest first.

Examples:
  # Table output
  omnicrm-backup backup list

  # YAML output
  omnicrm-backup backup list --format yaml`,
	Args: cobra.NoArgs,
	RunE: runBackupList,
}

// backupVerifyCmd checks an artifact against its catalog checksum
var backupVerifyCmd = &cobra.Command{
	Use:   "verify <filename>",
	Short: "Verify a backup against its recorded checksum",
	Long: `Recompute the SHA-256 checksum of a cataloged artifact and compare it with
the value recorded when it was created. The command exits non-zero when the
artifact is missing or does not match.

Examples:
  omnicrm-backup backup verify omnicrm_backup_20250101_020000.db.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupVerify,
}

// backupCleanupCmd applies the retention window
var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backups older than the retention window",
	Long: `Delete artifacts whose file modification time is older than the retention
window. Files that do not follow the artifact naming scheme are never
touched, and deleted artifacts are dropped from the catalog.

Examples:
  # Use retention.days from the configuration
  omnicrm-backup backup cleanup

  # Override the window
  omnicrm-backup backup cleanup --retention-days 7`,
	Args: cobra.NoArgs,
	RunE: runBackupCleanup,
}

// backupCheckStorageCmd reports local usage and probes the storage provider
var backupCheckStorageCmd = &cobra.Command{
	Use:   "check-storage",
	Short: "Report local usage and check the storage provider",
	Long: `Summarise the artifacts in the backup directory and probe the configured
off-site storage provider.

Examples:
  omnicrm-backup backup check-storage --format json`,
	Args: cobra.NoArgs,
	RunE: runBackupCheckStorage,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupCleanupCmd)
	backupCmd.AddCommand(backupCheckStorageCmd)

	backupCreateCmd.Flags().StringVar(&backupType, "type", string(backup.BackupTypeFull), "backup type (full)")
	backupCreateCmd.Flags().BoolVar(&backupCompress, "compress", true, "compress the snapshot (default from backup.default_compress)")
	backupCreateCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false, "encrypt the artifact (default from backup.default_encrypt)")

	backupCleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "retention window in days (default from retention.days)")
}

// runBackupCreate creates a new backup
func runBackupCreate(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	req := backup.CreateRequest{
		Type:     backup.BackupType(backupType),
		Compress: a.cfg.Backup.DefaultCompress,
		Encrypt:  a.cfg.Backup.DefaultEncrypt,
	}
	if cmd.Flags().Changed("compress") {
		req.Compress = backupCompress
	}
	if cmd.Flags().Changed("encrypt") {
		req.Encrypt = backupEncrypt
	}

	record, err := a.manager.CreateBackup(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	if !record.HasCloudCopy() && a.cfg.Storage.Provider != backup.StorageProviderNone {
		a.printer.Warning("Upload failed, the backup is stored locally only")
	}
	return a.printer.Record(record)
}

// runBackupList lists the catalog
func runBackupList(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.manager.ListBackups(cmd.Context())
	if err != nil {
		return err
	}
	return a.printer.Records(records)
}

// runBackupVerify recomputes and compares a checksum
func runBackupVerify(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.manager.VerifyBackup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := a.printer.Verification(result); err != nil {
		return err
	}
	if !result.Valid {
		return backup.NewChecksumError(fmt.Sprintf("backup %s failed verification", args[0]), nil)
	}
	return nil
}

// runBackupCleanup applies the retention window
func runBackupCleanup(cmd *cobra.Command, args []string) error {
	if cleanupRetentionDays < 0 {
		return backup.NewValidationError("--retention-days cannot be negative", nil)
	}
	if cleanupRetentionDays > backup.MaxRetentionDays {
		return backup.NewValidationError(fmt.Sprintf("--retention-days cannot exceed %d", backup.MaxRetentionDays), nil)
	}

	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.manager.Cleanup(cmd.Context(), cleanupRetentionDays)
	if err != nil {
		return err
	}
	return a.printer.Cleanup(result)
}

// runBackupCheckStorage reports usage and provider health
func runBackupCheckStorage(cmd *cobra.Command, args []string) error {
	a, err := newPipelineApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	usage, err := a.manager.StorageUsage(cmd.Context())
	if err != nil {
		return err
	}
	health := a.manager.CheckStorage(cmd.Context())
	if err := a.printer.Storage(usage, health); err != nil {
		return err
	}
	if health.Configured && !health.Healthy {
		return backup.NewUploadError(fmt.Sprintf("storage provider %s is unreachable", health.Provider), nil)
	}
	return nil
}
