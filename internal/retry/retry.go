// Package retry implements the cart client's rate-limit retry: when a call is
// rejected with 429 it waits for the advertised Retry-After and re-issues the
// identical call exactly once. No other failure is retried.
package retry

import (
	"context"
	"log/slog"
	"time"

	"fitcart/internal/domain"
	"fitcart/internal/logger"
	"fitcart/internal/metrics"
	"github.com/go-faster/errors"
)

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	sleep   SleepFunc
	logger  *slog.Logger
	metrics *metrics.ClientMetrics
}

type Option func(*Policy)

func WithSleep(fn SleepFunc) Option {
	return func(p *Policy) { p.sleep = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = logger.OrDiscard(l) }
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(p *Policy) { p.metrics = m }
}

func New(opts ...Option) *Policy {
	p := &Policy{
		sleep:  Sleep,
		logger: logger.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Do runs attempt and, if it fails with *domain.RateLimitedError, runs it one
// more time after the advertised delay. The second outcome is returned as is.
func (p *Policy) Do(ctx context.Context, op string, attempt func(context.Context) error) error {
	err := attempt(ctx)

	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		return err
	}

	p.logger.Warn("rate limited, retrying once", "op", op, "retry_after", limited.RetryAfter)
	if serr := p.sleep(ctx, limited.RetryAfter); serr != nil {
		p.logger.Warn("retry wait aborted", "op", op, "err", serr)
		return err
	}
	p.metrics.ObserveRetry(op)
	return attempt(ctx)
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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
