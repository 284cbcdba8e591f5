package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"omnicrm-backup/internal/logging"
)

// DaemonState is the phase the scheduled backup loop is in
type DaemonState string

const (
	DaemonStateIdle       DaemonState = "idle"
	DaemonStateBackingUp  DaemonState = "backing_up"
	DaemonStateCleaningUp DaemonState = "cleaning_up"
	DaemonStateSleeping   DaemonState = "sleeping"
	DaemonStateBackoff    DaemonState = "backoff"
	DaemonStateStopped    DaemonState = "stopped"
)

// DaemonStatus is a snapshot of the daemon for health reporting
type DaemonStatus struct {
	State               DaemonState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastRun             *time.Time  `json:"last_run,omitempty"`
	LastSuccess         *time.Time  `json:"last_success,omitempty"`
	LastBackup          string      `json:"last_backup,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	NextRun             *time.Time  `json:"next_run,omitempty"`
}

// Healthy reports whether the most recent run succeeded
func (s DaemonStatus) Healthy() bool {
	return s.ConsecutiveFailures == 0
}

// DaemonOptions wires the collaborators of a Daemon
type DaemonOptions struct {
	Service       Service
	Schedule      ScheduleConfig
	RetentionDays int
	Logger        *logging.Logger
	Metrics       *Metrics
	Alerts        AlertHook

	// Clock and Sleep default to the wall clock
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Daemon runs a backup followed by a retention pass on a fixed interval or
// cron schedule. Failed runs are retried with bounded exponential backoff;
// when the retries are exhausted a critical alert is raised and the daemon
// falls back to its regular schedule.
type Daemon struct {
	service       Service
	schedule      ScheduleConfig
	cron          cron.Schedule
	retentionDays int
	logger        *logging.Logger
	metrics       *Metrics
	alerts        AlertHook
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	status  DaemonStatus
	attempt int
	alerted bool
}

// NewDaemon creates a daemon; it does nothing until Run is called
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	if opts.Service == nil {
		return nil, NewConfigurationError("the daemon needs a backup service", nil)
	}

	schedule := opts.Schedule
	if schedule.Interval <= 0 {
		schedule.Interval = 24 * time.Hour
	}
	if schedule.MaxRetries <= 0 {
		schedule.MaxRetries = 5
	}
	if schedule.InitialBackoff <= 0 {
		schedule.InitialBackoff = 5 * time.Minute
	}
	if schedule.MaxBackoff <= 0 {
		schedule.MaxBackoff = time.Hour
	}
	if schedule.BackoffMultiplier < 1 {
		schedule.BackoffMultiplier = 2
	}

	cronSchedule, err := ParseCronSchedule(schedule.Cron)
	if err != nil {
		return nil, err
	}

	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Daemon{
		service:       opts.Service,
		schedule:      schedule,
		cron:          cronSchedule,
		retentionDays: opts.RetentionDays,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		alerts:        opts.Alerts,
		now:           opts.Clock,
		sleep:         opts.Sleep,
		status:        DaemonStatus{State: DaemonStateIdle},
	}, nil
}

// ParseCronSchedule parses a standard five-field cron expression or a
// descriptor such as @daily. An empty expression yields a nil schedule.
func ParseCronSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return schedule, nil
}

// Status returns a snapshot of the daemon's state
func (d *Daemon) Status() DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Run executes cycles until ctx is canceled. The first cycle starts
// immediately. Run only returns once ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.WithFields(map[string]interface{}{
		"interval":    d.schedule.Interval.String(),
		"cron":        d.schedule.Cron,
		"max_retries": d.schedule.MaxRetries,
	}).Info("Backup daemon started")

	defer func() {
		d.setState(DaemonStateStopped)
		d.logger.Info("Backup daemon stopped")
	}()

	for {
		wait, err := d.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		state := DaemonStateSleeping
		if err != nil && d.inBackoff() {
			state = DaemonStateBackoff
		}
		next := d.now().Add(wait)
		d.mu.Lock()
		d.status.State = state
		d.status.NextRun = &next
		d.mu.Unlock()

		if err := d.sleep(ctx, wait); err != nil {
			return nil
		}
		d.setState(DaemonStateIdle)
	}
}

// RunOnce performs one backup and retention cycle and returns how long to
// wait before the next one.
func (d *Daemon) RunOnce(ctx context.Context) (time.Duration, error) {
	started := d.now()
	d.mu.Lock()
	d.status.State = DaemonStateBackingUp
	d.status.LastRun = &started
	d.mu.Unlock()

	record, err := d.service.CreateBackup(ctx, CreateRequest{
		Type:     BackupTypeFull,
		Compress: d.schedule.Compress,
		Encrypt:  d.schedule.Encrypt,
	})
	if err == nil {
		d.setState(DaemonStateCleaningUp)
		_, err = d.service.Cleanup(ctx, d.retentionDays)
		if err != nil {
			err = fmt.Errorf("retention cleanup after %s: %w", record.Filename, err)
		}
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, err
		}
		return d.recordFailure(ctx, err), err
	}

	d.recordSuccess(ctx, record)
	return d.nextScheduled(), nil
}

func (d *Daemon) recordSuccess(ctx context.Context, record *BackupRecord) {
	d.mu.Lock()
	now := d.now()
	d.status.ConsecutiveFailures = 0
	d.status.LastSuccess = &now
	d.status.LastBackup = record.Filename
	d.status.LastError = ""
	d.attempt = 0
	recovered := d.alerted
	d.alerted = false
	d.mu.Unlock()

	d.metrics.ConsecutiveFailures.Set(0)
	d.logger.WithContext(ctx).WithField("filename", record.Filename).Info("Scheduled backup completed")

	if recovered {
		d.notify(ctx, NewAlert(AlertTypeBackupRecovered, AlertSeverityInfo,
			"Scheduled backups recovered",
			fmt.Sprintf("Backup %s completed after earlier failures", record.Filename)))
	}
}

// recordFailure updates the failure streak and returns the delay before the
// next attempt
func (d *Daemon) recordFailure(ctx context.Context, err error) time.Duration {
	d.mu.Lock()
	d.status.ConsecutiveFailures++
	d.status.LastError = err.Error()
	d.attempt++
	streak := d.status.ConsecutiveFailures
	attempt := d.attempt
	firstFailure := !d.alerted
	d.alerted = true
	exhausted := attempt >= d.schedule.MaxRetries
	if exhausted {
		d.attempt = 0
	}
	d.mu.Unlock()

	d.metrics.ConsecutiveFailures.Set(float64(streak))
	entry := d.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
		"consecutive_failures": streak,
		"attempt":              attempt,
		"error_type":           string(ErrorType(err)),
	})

	if firstFailure {
		d.notify(ctx, d.failureAlert(AlertTypeBackupFailed, AlertSeverityWarning,
			"Scheduled backup failed", err, streak))
	}

	if exhausted {
		wait := d.nextScheduled()
		entry.WithField("next_attempt_in", wait.String()).Error("Scheduled backup retries exhausted")
		d.notify(ctx, d.failureAlert(AlertTypeRetriesExhausted, AlertSeverityCritical,
			fmt.Sprintf("Scheduled backup failed %d times in a row", attempt), err, streak))
		return wait
	}

	wait := d.backoff(attempt)
	entry.WithField("retry_in", wait.String()).Error("Scheduled backup failed")
	return wait
}

func (d *Daemon) failureAlert(alertType AlertType, severity AlertSeverity, title string, err error, streak int) Alert {
	alert := NewAlert(alertType, severity, title, err.Error())
	alert.Metadata["consecutive_failures"] = streak
	if t := ErrorType(err); t != "" {
		alert.Metadata["error_type"] = string(t)
	}
	return alert
}

func (d *Daemon) notify(ctx context.Context, alert Alert) {
	if d.alerts == nil {
		return
	}
	if err := d.alerts.Notify(ctx, alert); err != nil {
		d.logger.WithError(err).WithField("alert_type", string(alert.Type)).Warn("Failed to deliver alert")
	}
}

// backoff returns initial * multiplier^(attempt-1), capped at the maximum
func (d *Daemon) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= d.schedule.BackoffMultiplier
	}

	delay := time.Duration(float64(d.schedule.InitialBackoff) * multiplier)
	if delay > d.schedule.MaxBackoff || delay <= 0 {
		delay = d.schedule.MaxBackoff
	}
	return delay
}

// nextScheduled is the wait until the next regular run
func (d *Daemon) nextScheduled() time.Duration {
	if d.cron == nil {
		return d.schedule.Interval
	}
	now := d.now()
	return d.cron.Next(now).Sub(now)
}

func (d *Daemon) inBackoff() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attempt > 0
}

func (d *Daemon) setState(state DaemonState) {
	d.mu.Lock()
	d.status.State = state
	d.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
