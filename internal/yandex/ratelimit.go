package yandex

import (
	"context"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

// RateLimits bounds calls over three sliding windows.
type RateLimits struct {
	PerSecond int
	PerMinute int
	PerHour   int
}

// DefaultRateLimits mirrors the documented quota of the deferred search API.
var DefaultRateLimits = RateLimits{PerSecond: 10, PerMinute: 600, PerHour: 35000}

type rateRule struct {
	limit  int
	window time.Duration
	events []time.Time
}

// limiter enforces a set of sliding-window rules by cooperative sleeping.
// Each client instance accesses its limiter from a single goroutine.
type limiter struct {
	rules []*rateRule
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newLimiter(limits RateLimits, now func() time.Time, sleep func(context.Context, time.Duration) error) *limiter {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = sleepCtx
	}
	return &limiter{
		rules: []*rateRule{
			{limit: limits.PerSecond, window: time.Second},
			{limit: limits.PerMinute, window: time.Minute},
			{limit: limits.PerHour, window: time.Hour},
		},
		now:   now,
		sleep: sleep,
	}
}

// wait blocks until the call is admitted by every rule, then records it.
func (l *limiter) wait(ctx context.Context) error {
	current := l.now()
	for _, rule := range l.rules {
		for len(rule.events) > 0 && current.Sub(rule.events[0]) > rule.window {
			rule.events = rule.events[1:]
		}

		if len(rule.events) >= rule.limit {
			waitFor := rule.events[0].Add(rule.window).Sub(current)
			if waitFor > 0 {
				logger.Debug("yandex: rate limit reached, waiting",
					"limit", rule.limit, "window", rule.window.String(), "wait", waitFor.String())
				if err := l.sleep(ctx, waitFor); err != nil {
					return err
				}
			}
			current = l.now()
		}

		rule.events = append(rule.events, current)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
