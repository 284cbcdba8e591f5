package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"google.golang.org/api/googleapi"
)

// Class groups errors by whether another attempt can succeed
type Class string

const (
	ClassPermanent Class = "permanent"
	ClassTransient Class = "transient"
	ClassTimeout   Class = "timeout"
	ClassCanceled  Class = "canceled"
)

// Classification is the verdict on one error
type Classification struct {
	Class  Class
	Reason string
}

// Retryable reports whether the operation is worth repeating
func (c Classification) Retryable() bool {
	return c.Class == ClassTransient || c.Class == ClassTimeout
}

// Classifier sorts errors from the network stack and the cloud SDKs into
// transient and permanent failures
type Classifier struct{}

// NewClassifier creates a new error classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify inspects err and its chain
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassPermanent}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Class: ClassCanceled, Reason: "operation was canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: ClassTimeout, Reason: "operation timed out"}
	}

	if cls, ok := classifyCloudError(err); ok {
		return cls
	}
	if cls, ok := classifyNetworkError(err); ok {
		return cls
	}

	return Classification{Class: ClassPermanent, Reason: "unclassified error"}
}

func classifyCloudError(err error) (Classification, bool) {
	var awsFailure awserr.RequestFailure
	if errors.As(err, &awsFailure) {
		return classifyStatus("s3", awsFailure.StatusCode()), true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case "RequestError", "RequestTimeout", "RequestTimeoutException", "Throttling", "ThrottlingException", "SlowDown":
			return Classification{Class: ClassTransient, Reason: "s3 " + awsErr.Code()}, true
		}
		return Classification{Class: ClassPermanent, Reason: "s3 " + awsErr.Code()}, true
	}

	var gcsErr *googleapi.Error
	if errors.As(err, &gcsErr) {
		return classifyStatus("gcs", gcsErr.Code), true
	}

	var azureErr azblob.StorageError
	if errors.As(err, &azureErr) {
		if resp := azureErr.Response(); resp != nil {
			return classifyStatus("azure", resp.StatusCode), true
		}
		return Classification{Class: ClassTransient, Reason: "azure request failed without a response"}, true
	}

	return Classification{}, false
}

func classifyStatus(provider string, status int) Classification {
	reason := fmt.Sprintf("%s returned HTTP %d", provider, status)
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return Classification{Class: ClassTransient, Reason: reason}
	}
	return Classification{Class: ClassPermanent, Reason: reason}
}

func classifyNetworkError(err error) (Classification, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Class: ClassTimeout, Reason: "network operation timed out"}, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return Classification{Class: ClassTransient, Reason: "failed to establish network connection"}, true
		case "read", "write":
			return Classification{Class: ClassTransient, Reason: "network I/O error"}, true
		}
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return Classification{Class: ClassTransient, Reason: "connection dropped"}, true
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Classification{Class: ClassTransient, Reason: "connection closed mid-transfer"}, true
	}

	return Classification{}, false
}

// Config holds configuration for retry operations
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the wait after the given failed attempt (1-based)
func (c Config) Delay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.Multiplier
	}

	delay := time.Duration(float64(c.BaseDelay) * multiplier)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Handler repeats operations that fail with transient errors
type Handler struct {
	config     Config
	classifier *Classifier
	sleep      func(ctx context.Context, d time.Duration) error

	// OnRetry, when set, is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error, cls Classification)
}

// NewHandler creates a new retry handler
func NewHandler(config Config) *Handler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Handler{
		config:     config,
		classifier: NewClassifier(),
		sleep:      sleepContext,
	}
}

// Attempts returns the configured attempt limit
func (h *Handler) Attempts() int {
	return h.config.MaxAttempts
}

// Retry runs operation until it succeeds, fails permanently or the attempts
// are used up. Permanent errors are returned unchanged.
func (h *Handler) Retry(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= h.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (retry interrupted: %v)", lastErr, err)
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		cls := h.classifier.Classify(err)
		if !cls.Retryable() || ctx.Err() != nil {
			return err
		}
		if attempt == h.config.MaxAttempts {
			break
		}

		delay := h.config.Delay(attempt)
		if h.OnRetry != nil {
			h.OnRetry(attempt, delay, err, cls)
		}
		if err := h.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (retry interrupted: %v)", lastErr, err)
		}
	}

	if h.config.MaxAttempts == 1 {
		return lastErr
	}
	return &ExhaustedError{Attempts: h.config.MaxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
