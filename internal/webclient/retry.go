package webclient

import (
	"context"
	"errors"
	"time"

	"github.com/raysh454/probekit/internal/model"
)

// Doer executes a single request. WebClients and authenticated sessions both
// satisfy it.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// RetryPolicy describes the single-retry rule for outbound calls: transport
// errors are retried, timeouts only on idempotent requests, with a linear
// backoff capped at MaxBackoff.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy allows one retry after one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Backoff: time.Second, MaxBackoff: 2 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff * time.Duration(attempt)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// ClassifyError maps a request error onto timeout or transport-error.
func ClassifyError(err error) model.ErrorKind {
	if err == nil {
		return model.KindNone
	}
	var pe *model.ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.KindTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return model.KindTimeout
	}
	return model.KindTransportError
}

// DoWithRetry performs req with a per-attempt timeout and the retry policy.
// It returns the response, the number of attempts made and an error that
// carries its model.ErrorKind.
func DoWithRetry(ctx context.Context, d Doer, req *Request, timeout time.Duration, policy RetryPolicy) (*Response, int, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := d.Do(attemptCtx, req)
		cancel()
		if err == nil {
			return resp, attempt, nil
		}

		kind := ClassifyError(err)
		lastErr = model.Wrap(kind, req.Method+" "+req.URL, err)
		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
		retryable := kind == model.KindTransportError || (kind == model.KindTimeout && req.Idempotent())
		if !retryable || attempt == attempts {
			return nil, attempt, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, attempt, lastErr
		case <-time.After(policy.delay(attempt)):
		}
	}
	return nil, attempts, lastErr
}
