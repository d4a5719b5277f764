package graphstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
)

const (
	maxAttempts   = 3
	backoffBase   = time.Second
	backoffFactor = 2
)

// withRetry wraps one store operation with the shared retry policy: up to
// three attempts with exponential backoff, retrying only transient errors.
// Non-retryable errors fail immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := backoffBase
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := s.opContext(ctx)
		err = fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !apperr.IsTransient(err) || attempt == maxAttempts {
			return err
		}
		s.logger.Warn("retrying graph operation",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return classify(op, ctx.Err())
		}
		backoff *= backoffFactor
	}
	return err
}

// classify maps a driver error onto the error taxonomy. Timeouts and
// connection-level failures are retryable; everything else is a plain
// query error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeDBTimeout, op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "busy", "connection refused", "connection reset", "i/o timeout"} {
		if strings.Contains(msg, marker) {
			return apperr.Wrap(apperr.CodeDBConnection, op, err)
		}
	}
	return apperr.Wrap(apperr.CodeDBQuery, op, err)
}
