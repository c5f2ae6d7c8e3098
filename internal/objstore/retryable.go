package objstore

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for remote store operations.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the defaults used for S3 targets.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryableStore wraps an ObjectStore with exponential backoff. Transient
// transport failures are retried; everything else fails fast.
type RetryableStore struct {
	store  ObjectStore
	config RetryConfig
}

func NewRetryableStore(store ObjectStore, config RetryConfig) *RetryableStore {
	return &RetryableStore{store: store, config: config}
}

func (r *RetryableStore) List(prefix string) ([]string, error) {
	var result []string
	err := r.do("list", func() error {
		var err error
		result, err = r.store.List(prefix)
		return err
	})
	return result, err
}

func (r *RetryableStore) Get(key string) ([]byte, error) {
	var result []byte
	err := r.do("get", func() error {
		var err error
		result, err = r.store.Get(key)
		return err
	})
	return result, err
}

func (r *RetryableStore) PutAtomic(key string, data []byte) error {
	return r.do("put", func() error {
		return r.store.PutAtomic(key, data)
	})
}

func (r *RetryableStore) do(op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(r.delay(attempt))
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.config.MaxAttempts, lastErr)
}

// delay implements exponential backoff with +/-25% jitter.
func (r *RetryableStore) delay(attempt int) time.Duration {
	d := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	jitter := d * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1)
	return time.Duration(d + jitter)
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"server error",
	"throttling",
	"slowdown",
	"requesttimeout",
}

func isRetryable(err error) bool {
	if err == nil || err == ErrNotFound {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
