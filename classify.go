package procio

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind is the closed set of failure classes the executor acts on.
type Kind string

const (
	// KindStorageTransient covers lock-wait timeouts, dropped connections
	// and aborted transactions. Retried with a short backoff.
	KindStorageTransient Kind = "storage_transient"
	// KindServiceUnavailable covers dependent tool/service timeouts and
	// connection refusals. Retried with a longer backoff.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindValidation covers malformed input and unsupported formats.
	// Never retried.
	KindValidation Kind = "validation"
	// KindResourceExhaustion covers out-of-memory and disk-full. Never
	// retried; fail fast for operator alerting.
	KindResourceExhaustion Kind = "resource_exhaustion"
	// KindUnclassified is anything not matching the above. Retried once,
	// then treated as permanent.
	KindUnclassified Kind = "unclassified"
)

// Classification is the retry decision derived from a failure.
type Classification struct {
	Kind      Kind
	Retryable bool
	// BackoffHint is the base delay for this kind; the executor grows it
	// exponentially per attempt.
	BackoffHint time.Duration
}

// Classify maps a failure into a retry decision. It is a pure function:
// it never panics and always returns a usable Classification, falling
// back to KindUnclassified for anything it does not recognize.
func Classify(err error) Classification {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoProcessor):
		return Classification{Kind: KindValidation, Retryable: false}
	case errors.Is(err, ErrResourceExhausted):
		return Classification{Kind: KindResourceExhaustion, Retryable: false}
	case errors.Is(err, ErrServiceUnavailable):
		return Classification{Kind: KindServiceUnavailable, Retryable: true, BackoffHint: 60 * time.Second}
	case isStorageTransient(err):
		return Classification{Kind: KindStorageTransient, Retryable: true, BackoffHint: 5 * time.Second}
	default:
		return Classification{Kind: KindUnclassified, Retryable: true, BackoffHint: 30 * time.Second}
	}
}

// isStorageTransient matches infrastructure failures on the store path.
func isStorageTransient(err error) bool {
	if errors.Is(err, ErrLockWaitTimeout) ||
		errors.Is(err, redis.TxFailedErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}
