package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"omnicrm-backup/internal/backup"
)

var keygenOutput string

// keygenCmd generates an encryption key
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a 256-bit encryption key",
	Long: `Generate a random 256-bit key for AES-256-GCM artifact encryption.

The key is printed as hex unless --output is given, in which case it is
written to that file with owner-only permissions. Keep a copy somewhere
other than the backup host: encrypted backups cannot be restored without it.

Examples:
  # Print a key for use in the environment
  export OMNICRM_BACKUP_ENCRYPTION_KEY=$(omnicrm-backup keygen)

  # Write a key file referenced by encryption.key_file
  omnicrm-backup keygen --output /etc/omnicrm-backup/backup.key`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keygenOutput, "output", "", "write the key to this file instead of stdout")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	km := backup.NewKeyManager(&backup.EncryptionConfig{})
	key, err := km.GenerateKey()
	if err != nil {
		return err
	}

	if keygenOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
		return nil
	}
	if err := km.SaveKeyToFile(key, keygenOutput); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Key written to %s\n", keygenOutput)
	return nil
}
