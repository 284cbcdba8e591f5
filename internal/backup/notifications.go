package backup

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"omnicrm-backup/internal/logging"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeBackupFailed     AlertType = "backup_failed"
	AlertTypeRetriesExhausted AlertType = "retries_exhausted"
	AlertTypeBackupRecovered  AlertType = "backup_recovered"
	AlertTypeUploadFailed     AlertType = "upload_failed"
)

// AlertSeverity represents the severity of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is one event pushed to an observability channel
type Alert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewAlert creates an alert stamped with a fresh id and the current time
func NewAlert(alertType AlertType, severity AlertSeverity, title, message string) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
}

// AlertHook receives alerts raised by the daemon and the orchestrator
type AlertHook interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotificationConfig holds configuration for notifications
type NotificationConfig struct {
	Enabled     bool                   `mapstructure:"enabled" yaml:"enabled"`
	MinSeverity AlertSeverity          `mapstructure:"min_severity" yaml:"min_severity"`
	Webhook     WebhookConfig          `mapstructure:"webhook" yaml:"webhook"`
	Slack       SlackConfig            `mapstructure:"slack" yaml:"slack"`
	File        FileNotificationConfig `mapstructure:"file" yaml:"file"`
}

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Method  string            `mapstructure:"method" yaml:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// SlackConfig for Slack notifications
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel,omitempty"`
	Username   string `mapstructure:"username" yaml:"username,omitempty"`
}

// FileNotificationConfig for file-based notifications
type FileNotificationConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"` // json, text
}

// NotificationChannel interface for different notification methods
type NotificationChannel interface {
	Send(ctx context.Context, alert Alert) error
	GetType() string
	IsEnabled() bool
}

// NotificationManager fans alerts out to every configured channel
type NotificationManager struct {
	logger   *logging.Logger
	config   NotificationConfig
	channels []NotificationChannel
}

// NewNotificationManager creates a new notification manager
func NewNotificationManager(logger *logging.Logger, config NotificationConfig) *NotificationManager {
	nm := &NotificationManager{
		logger: logger,
		config: config,
	}

	if config.Webhook.URL != "" {
		nm.channels = append(nm.channels, NewWebhookChannel(config.Webhook))
	}
	if config.Slack.WebhookURL != "" {
		nm.channels = append(nm.channels, NewSlackChannel(config.Slack))
	}
	if config.File.Path != "" {
		nm.channels = append(nm.channels, NewFileChannel(config.File))
	}

	return nm
}

// AddChannel registers an extra channel
func (nm *NotificationManager) AddChannel(channel NotificationChannel) {
	nm.channels = append(nm.channels, channel)
}

// Notify sends an alert through all enabled channels. It fails only when
// every channel failed.
func (nm *NotificationManager) Notify(ctx context.Context, alert Alert) error {
	fields := map[string]interface{}{
		"alert_id":   alert.ID,
		"alert_type": string(alert.Type),
		"severity":   string(alert.Severity),
	}

	if !nm.config.Enabled || len(nm.channels) == 0 {
		nm.logger.WithFields(fields).Warnf("Alert (no channels): %s: %s", alert.Title, alert.Message)
		return nil
	}

	if !severityMeetsThreshold(alert.Severity, nm.config.MinSeverity) {
		nm.logger.WithFields(fields).Debug("Alert below minimum severity, not sending notification")
		return nil
	}

	var failures []string
	sent := 0

	for _, channel := range nm.channels {
		if !channel.IsEnabled() {
			continue
		}

		if err := channel.Send(ctx, alert); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", channel.GetType(), err))
			nm.logger.WithFields(fields).WithField("channel", channel.GetType()).WithError(err).Error("Failed to send notification")
			continue
		}
		sent++
		nm.logger.WithFields(fields).WithField("channel", channel.GetType()).Debug("Notification sent")
	}

	if len(failures) > 0 && sent == 0 {
		return fmt.Errorf("all notification channels failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

func severityMeetsThreshold(alertSeverity, minSeverity AlertSeverity) bool {
	levels := map[AlertSeverity]int{
		AlertSeverityInfo:     1,
		AlertSeverityWarning:  2,
		AlertSeverityCritical: 3,
	}

	alertLevel, ok := levels[alertSeverity]
	if !ok {
		return false
	}
	minLevel, ok := levels[minSeverity]
	if !ok {
		return true
	}
	return alertLevel >= minLevel
}

// notificationMessage is the payload posted to webhooks and written to files
type notificationMessage struct {
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Severity  AlertSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	AlertID   string                 `json:"alert_id"`
	AlertType AlertType              `json:"alert_type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Color     string                 `json:"color,omitempty"`
	IconEmoji string                 `json:"icon_emoji,omitempty"`
}

func formatMessage(alert Alert) notificationMessage {
	message := notificationMessage{
		Title:     alert.Title,
		Message:   alert.Message,
		Severity:  alert.Severity,
		Timestamp: alert.Timestamp,
		AlertID:   alert.ID,
		AlertType: alert.Type,
		Metadata:  alert.Metadata,
	}

	switch alert.Severity {
	case AlertSeverityInfo:
		message.Color = "#36a64f"
		message.IconEmoji = ":information_source:"
	case AlertSeverityWarning:
		message.Color = "#ff9900"
		message.IconEmoji = ":warning:"
	case AlertSeverityCritical:
		message.Color = "#ff0000"
		message.IconEmoji = ":rotating_light:"
	}

	return message
}

func postJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned error status: %d", resp.StatusCode)
	}
	return nil
}

// WebhookChannel posts alerts as JSON to an arbitrary endpoint
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}
	return postJSON(ctx, wc.client, method, wc.config.URL, wc.config.Headers, formatMessage(alert))
}

func (wc *WebhookChannel) GetType() string {
	return "webhook"
}

func (wc *WebhookChannel) IsEnabled() bool {
	return wc.config.URL != ""
}

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	config SlackConfig
	client *http.Client
}

// NewSlackChannel creates a new Slack notification channel
func NewSlackChannel(config SlackConfig) *SlackChannel {
	return &SlackChannel{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (sc *SlackChannel) Send(ctx context.Context, alert Alert) error {
	message := formatMessage(alert)

	payload := map[string]interface{}{
		"text": fmt.Sprintf("%s %s", message.IconEmoji, alert.Title),
		"attachments": []map[string]interface{}{
			{
				"color":     message.Color,
				"title":     alert.Title,
				"text":      alert.Message,
				"timestamp": alert.Timestamp.Unix(),
				"fields": []map[string]interface{}{
					{"title": "Type", "value": string(alert.Type), "short": true},
					{"title": "Severity", "value": string(alert.Severity), "short": true},
				},
			},
		},
	}
	if sc.config.Channel != "" {
		payload["channel"] = sc.config.Channel
	}
	if sc.config.Username != "" {
		payload["username"] = sc.config.Username
	}

	return postJSON(ctx, sc.client, http.MethodPost, sc.config.WebhookURL, nil, payload)
}

func (sc *SlackChannel) GetType() string {
	return "slack"
}

func (sc *SlackChannel) IsEnabled() bool {
	return sc.config.WebhookURL != ""
}

// FileChannel appends alerts to a local file
type FileChannel struct {
	config FileNotificationConfig
	mu     sync.Mutex
}

// NewFileChannel creates a new file notification channel
func NewFileChannel(config FileNotificationConfig) *FileChannel {
	return &FileChannel{config: config}
}

func (fc *FileChannel) Send(ctx context.Context, alert Alert) error {
	var content string

	switch fc.config.Format {
	case "json":
		data, err := json.Marshal(formatMessage(alert))
		if err != nil {
			return fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s - %s: %s: %s\n",
			alert.Timestamp.Format(time.RFC3339),
			strings.ToUpper(string(alert.Severity)),
			alert.Type,
			alert.Title,
			alert.Message)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fc.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}
	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}
	return nil
}

func (fc *FileChannel) GetType() string {
	return "file"
}

func (fc *FileChannel) IsEnabled() bool {
	return fc.config.Path != ""
}
