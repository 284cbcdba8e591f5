package display

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"omnicrm-backup/internal/backup"
)

// Format selects how results are printed
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format flag value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (table, json, yaml)", s)
	}
}

// Printer writes pipeline results for the CLI
type Printer struct {
	out    io.Writer
	format Format
	colors *Colors
}

// NewPrinter creates a printer. A nil colors disables color.
func NewPrinter(out io.Writer, format Format, colors *Colors) *Printer {
	if colors == nil {
		colors = NoColors()
	}
	if format == "" {
		format = FormatTable
	}
	return &Printer{out: out, format: format, colors: colors}
}

// Success prints a confirmation line
func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.colors.Sprint(ColorSuccess, "✓ "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning line
func (p *Printer) Warning(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.colors.Sprint(ColorWarning, "! "+fmt.Sprintf(format, args...)))
}

// Error prints a failure line
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.colors.Sprint(ColorError, "✗ "+fmt.Sprintf(format, args...)))
}

// Record prints a single catalog record
func (p *Printer) Record(record *backup.BackupRecord) error {
	if p.format != FormatTable {
		return p.structured(record)
	}
	cloud := "local only"
	if record.HasCloudCopy() {
		cloud = *record.CloudURL
	}
	return p.details([][2]string{
		{"Filename", record.Filename},
		{"Path", record.LocalPath},
		{"Size", HumanBytes(record.SizeBytes)},
		{"Type", string(record.BackupType)},
		{"Compressed", yesNo(record.Compressed)},
		{"Encrypted", yesNo(record.Encrypted)},
		{"SHA-256", record.ChecksumSHA256},
		{"Cloud copy", cloud},
		{"Created", record.CreatedAt.Format(time.RFC3339)},
	})
}

// Records prints the catalog, oldest first
func (p *Printer) Records(records []backup.BackupRecord) error {
	if p.format != FormatTable {
		if records == nil {
			records = []backup.BackupRecord{}
		}
		return p.structured(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(p.out, p.colors.Sprint(ColorMuted, "No backups recorded"))
		return nil
	}

	table := NewTable(p.colors, "FILENAME", "SIZE", "FLAGS", "CLOUD", "CREATED")
	table.SetAlignment(1, AlignRight)
	for _, r := range records {
		cloud := "-"
		if r.HasCloudCopy() {
			cloud = "yes"
		}
		table.AddRow(r.Filename, HumanBytes(r.SizeBytes), flags(r), cloud, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	table.RenderTo(p.out)
	return nil
}

// Verification prints an integrity audit
func (p *Printer) Verification(result *backup.VerificationResult) error {
	if p.format != FormatTable {
		return p.structured(result)
	}
	switch {
	case !result.Exists:
		p.Error("%s is missing from the backup directory", result.Filename)
	case result.Valid:
		p.Success("%s checksum matches", result.Filename)
	default:
		p.Error("%s checksum mismatch", result.Filename)
	}
	return p.details([][2]string{
		{"Expected", result.Expected},
		{"Actual", result.Actual},
	})
}

// Restore prints a completed restore
func (p *Printer) Restore(result *backup.RestoreResult) error {
	if p.format != FormatTable {
		return p.structured(result)
	}
	p.Success("Restored %s into the %s database", result.Filename, result.Backend)
	return p.details([][2]string{
		{"Checksum verified", yesNo(result.ChecksumVerified)},
		{"Steps", strings.Join(result.Steps, " -> ")},
		{"Duration", result.Duration.Round(time.Millisecond).String()},
	})
}

// Cleanup prints a retention pass
func (p *Printer) Cleanup(result *backup.CleanupResult) error {
	if p.format != FormatTable {
		return p.structured(result)
	}
	p.Success("Deleted %d artifact(s) older than %d days, freed %s", result.DeletedCount, result.RetentionDays, HumanBytes(result.FreedBytes))
	for _, name := range result.DeletedFiles {
		fmt.Fprintf(p.out, "  - %s\n", name)
	}
	if result.PrunedRecords > 0 {
		fmt.Fprintf(p.out, "Pruned %d catalog record(s)\n", result.PrunedRecords)
	}
	for _, name := range result.FailedDeletion {
		p.Warning("could not delete %s", name)
	}
	return nil
}

// Storage prints the usage summary and provider health
func (p *Printer) Storage(usage *backup.StorageUsageReport, health *backup.StorageHealthReport) error {
	if p.format != FormatTable {
		return p.structured(map[string]interface{}{"usage": usage, "health": health})
	}

	if err := p.details([][2]string{
		{"Backups", strconv.Itoa(usage.TotalBackups)},
		{"Total size", HumanBytes(usage.TotalBytes)},
		{"Compressed", strconv.Itoa(usage.Compressed)},
		{"Encrypted", strconv.Itoa(usage.Encrypted)},
		{"Local only", strconv.Itoa(usage.LocalOnly)},
	}); err != nil {
		return err
	}
	for _, name := range usage.Missing {
		p.Warning("catalogued artifact %s is missing", name)
	}

	switch {
	case !health.Configured:
		fmt.Fprintln(p.out, p.colors.Sprint(ColorMuted, "No remote storage configured"))
	case health.Healthy:
		p.Success("%s reachable (%s)", health.Provider, health.Latency.Round(time.Millisecond))
	default:
		p.Error("%s unreachable: %s", health.Provider, health.Error)
	}
	return nil
}

// DaemonStatus prints the scheduler state
func (p *Printer) DaemonStatus(status backup.DaemonStatus) error {
	if p.format != FormatTable {
		return p.structured(status)
	}
	rows := [][2]string{
		{"State", string(status.State)},
		{"Consecutive failures", strconv.Itoa(status.ConsecutiveFailures)},
		{"Last backup", status.LastBackup},
		{"Last success", formatTime(status.LastSuccess)},
		{"Next run", formatTime(status.NextRun)},
	}
	if status.LastError != "" {
		rows = append(rows, [2]string{"Last error", status.LastError})
	}
	return p.details(rows)
}

func (p *Printer) details(rows [][2]string) error {
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range rows {
		label := p.colors.Sprint(ColorPrimary, fmt.Sprintf("%-*s", width, row[0]))
		if _, err := fmt.Fprintf(p.out, "%s  %s\n", label, row[1]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) structured(v interface{}) error {
	var (
		data []byte
		err  error
	)
	if p.format == FormatYAML {
		data, err = toYAML(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return err
	}
	_, err = p.out.Write(data)
	return err
}

// toYAML goes through JSON so the output keeps the json tag names and field
// order of the API types.
func toYAML(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	clearStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clearStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		clearStyle(child)
	}
}

// HumanBytes formats a byte count with binary units
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func flags(r backup.BackupRecord) string {
	var parts []string
	if r.Compressed {
		parts = append(parts, "gz")
	}
	if r.Encrypted {
		parts = append(parts, "enc")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
