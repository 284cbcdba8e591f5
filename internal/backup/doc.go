// Package backup implements the OmniCRM backup and restore pipeline.
//
// A backup run exports the datastore through a DatabaseBackend, optionally
// compresses and encrypts the snapshot, checksums the final artifact, copies
// it to secondary storage on a best-effort basis and appends a BackupRecord
// to the catalog. The transforms applied are encoded in the artifact name, so
//
//	omnicrm_backup_20240131_020000.db.gz.enc
//
// is restored by decrypting, then decompressing, then handing the .db file to
// the backend.
//
// Manager is the single entry point used by the CLI, the HTTP surface and
// the Daemon:
//
//	manager, err := backup.NewManager(backup.ManagerOptions{
//		Config:  cfg,
//		Backend: backend,
//	})
//	if err != nil {
//		return err
//	}
//	record, err := manager.CreateBackup(ctx, backup.CreateRequest{
//		Type:     backup.BackupTypeFull,
//		Compress: true,
//		Encrypt:  true,
//	})
//
// Runs that touch the backup directory hold the pipeline lock, and every
// catalog mutation holds the catalog lock, so a manual backup and a scheduled
// one never race.
package backup
