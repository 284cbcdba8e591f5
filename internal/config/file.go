package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const maskedValue = "********"

var sectionComments = map[string]string{
	"database":      "Datastore to protect. The URL scheme selects the backend:\npostgres://, postgresql://, mysql://, sqlite://, sqlite3:// or file:",
	"backup":        "Artifact directory, name prefix and catalog file",
	"compression":   "gzip, lz4 or zstd. Level 0 uses the codec's maximum",
	"encryption":    "AES-256-GCM. Sources are tried in order: key, key_file, key_env_var, passphrase.\nPrefer OMNICRM_BACKUP_ENCRYPTION_KEY over writing the key here",
	"storage":       "Best-effort off-site copy: none, local, s3, gcs or azure (mirrors adds more)",
	"retention":     "Artifacts older than this many days are deleted by cleanup",
	"schedule":      "Daemon cadence. cron overrides interval when set",
	"notifications": "Alert channels for failed and recovered scheduled backups",
	"audit":         "JSON audit trail of every operation",
	"server":        "HTTP trigger surface (serve command)",
	"logging":       "Levels: quiet, normal, verbose, debug. Formats: text, json",
}

// WriteDefault writes a commented default configuration file. An existing
// file is left alone unless force is set, in which case it is first copied
// to <path>.backup-<timestamp>.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			return fmt.Errorf("configuration file already exists: %s", path)
		}
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("20060102-150405"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to back up existing configuration: %w", err)
		}
	}

	data, err := DefaultYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// DefaultYAML renders the default configuration with a comment above every section
func DefaultYAML() ([]byte, error) {
	cfg := Default()
	cfg.Database.URL = "sqlite://./data/omnicrm.db"
	cfg.Encryption.KeyEnvVar = "OMNICRM_BACKUP_KEY"

	var doc yaml.Node
	if err := doc.Encode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to encode default configuration: %w", err)
	}
	doc.HeadComment = "omnicrm-backup configuration\nEvery key can be overridden with OMNICRM_BACKUP_<SECTION>_<KEY>"

	for i := 0; i+1 < len(doc.Content); i += 2 {
		if comment, ok := sectionComments[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = comment
		}
	}

	return marshalNode(&doc)
}

// YAML renders the configuration as shown by `config show`
func (c *AppConfig) YAML() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return marshalNode(&doc)
}

// Masked returns a copy with credentials replaced, suitable for printing
func (c *AppConfig) Masked() AppConfig {
	out := *c
	out.Encryption.KeyRetriever = nil

	out.Database.URL = maskURL(c.Database.URL)
	out.Encryption.Key = mask(c.Encryption.Key)
	out.Encryption.Passphrase = mask(c.Encryption.Passphrase)
	out.Storage.S3.AccessKey = mask(c.Storage.S3.AccessKey)
	out.Storage.S3.SecretKey = mask(c.Storage.S3.SecretKey)
	out.Storage.Azure.AccountKey = mask(c.Storage.Azure.AccountKey)
	out.Notifications.Slack.WebhookURL = maskURL(c.Notifications.Slack.WebhookURL)

	if len(c.Notifications.Webhook.Headers) > 0 {
		headers := make(map[string]string, len(c.Notifications.Webhook.Headers))
		for k, v := range c.Notifications.Webhook.Headers {
			headers[k] = mask(v)
		}
		out.Notifications.Webhook.Headers = headers
	}

	return out
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	return maskedValue
}

// maskURL hides the password of a URL and, for webhook URLs carrying a
// token in the path, everything after the host.
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return maskedValue
	}
	if (u.Scheme == "https" || u.Scheme == "http") && u.Path != "" && u.Path != "/" {
		return u.Scheme + "://" + u.Host + "/" + maskedValue
	}
	return u.Redacted()
}

func marshalNode(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
