// Package sender executes outbound Telegram calls with bounded retries.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/agentbot/core/logger"
	"github.com/m3rciful/agentbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Options controls retry behaviour.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single call including retries.
	MaxDuration time.Duration
	// MaxFloodWait caps how long a 429 retry_after is honoured.
	MaxFloodWait time.Duration
}

// Retrier runs calls synchronously in the caller's goroutine, so calls
// issued in order by one goroutine reach Telegram in that order.
type Retrier struct {
	opts  Options
	errs  atomic.Uint64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier applies defaults to zeroed options.
func NewRetrier(opts Options) *Retrier {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 30 * time.Second
	}
	if opts.MaxFloodWait <= 0 {
		opts.MaxFloodWait = 10 * time.Second
	}
	return &Retrier{opts: opts, sleep: sleepCtx}
}

// ErrorCount returns the number of calls that failed after all attempts.
func (r *Retrier) ErrorCount() uint64 {
	return r.errs.Load()
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts.
// fn must be safe to repeat.
func (r *Retrier) Do(ctx context.Context, action, endpoint string, fn func() error) error {
	if fn == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, r.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attrs := []slog.Attr{slog.String("action", action)}
	if endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", endpoint))
	}
	attempts := r.opts.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}
		lastErr = fn()
		if lastErr == nil {
			logger.Debug(ctx, "tg.sender", "send.success",
				append(attrs, slog.Int("attempt", attempt), slog.Duration("duration", logger.Took(start)))...)
			return nil
		}

		delay, retry := r.backoff(lastErr, attempt)
		if !retry || attempt == attempts {
			break
		}
		logger.Debug(ctx, "tg.sender", "send.retry",
			append(attrs,
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error_kind", classifyError(lastErr)),
			)...)
		if err := r.sleep(deadlineCtx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	r.errs.Add(1)
	logger.Error(ctx, "tg.sender", "send.fail",
		append(attrs,
			slog.String("status", "fail"),
			slog.String("err", sanitizeErrorMessage(lastErr)),
			slog.String("error_kind", classifyError(lastErr)),
			slog.Int("attempts", attempts),
			slog.Duration("duration", logger.Took(start)),
		)...)
	return lastErr
}

// backoff decides whether err is transient and how long to wait.
func (r *Retrier) backoff(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		wait := time.Duration(flood.RetryAfter) * time.Second
		if wait <= 0 {
			wait = r.opts.RetryBackoff
		}
		return min(wait, r.opts.MaxFloodWait), true
	}
	if httpStatusFromError(err) >= 500 || netutil.ShouldRetry(err) {
		return r.opts.RetryBackoff * time.Duration(attempt), true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if kind := netutil.Kind(err); kind != "unknown" {
		return kind
	}
	status := httpStatusFromError(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "flood"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

// sanitizeErrorMessage prevents accidental leakage of Telegram bot tokens in logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

func httpStatusFromError(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	// telebot renders unknown API errors as "telegram: <description> (<code>)".
	msg := err.Error()
	lastOpen := strings.LastIndex(msg, "(")
	lastClose := strings.LastIndex(msg, ")")
	if lastOpen >= 0 && lastClose > lastOpen+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[lastOpen+1 : lastClose])); convErr == nil {
			return code
		}
	}
	return 0
}
