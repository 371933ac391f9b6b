package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func newTestRetrier(retries int) (*Retrier, *[]time.Duration) {
	r := NewRetrier(Options{MaxRetries: retries, RetryBackoff: time.Second})
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	r, waits := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	assert.Zero(t, r.ErrorCount())
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	r, waits := newTestRetrier(3)
	calls := 0
	apiErr := tele.NewError(400, "Bad Request: chat not found")
	err := r.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		return apiErr
	})
	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
	assert.EqualValues(t, 1, r.ErrorCount())
}

func TestRetrierGivesUpAfterMaxRetries(t *testing.T) {
	r, _ := newTestRetrier(2)
	calls := 0
	err := r.Do(context.Background(), "send.album", "sendMediaGroup", func() error {
		calls++
		return tele.NewError(502, "Bad Gateway")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierHonoursCancelledContext(t *testing.T) {
	r, _ := newTestRetrier(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := r.Do(ctx, "send.text", "", func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetrierNilFunc(t *testing.T) {
	r, _ := newTestRetrier(0)
	assert.Error(t, r.Do(context.Background(), "x", "", nil))
}

func TestBackoffFlood(t *testing.T) {
	r := NewRetrier(Options{RetryBackoff: time.Second, MaxFloodWait: 5 * time.Second})
	d, ok := r.backoff(tele.FloodError{RetryAfter: 3}, 1)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = r.backoff(tele.FloodError{RetryAfter: 60}, 1)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "http_4xx", classifyError(tele.NewError(403, "Forbidden: bot was blocked by the user")))
	assert.Equal(t, "http_5xx", classifyError(tele.NewError(500, "Internal Server Error")))
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "http_4xx", classifyError(errors.New("telegram: unknown (404)")))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
}

func TestSanitizeErrorMessage(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:ABC-def_xyz/sendMessage": EOF`)
	msg := sanitizeErrorMessage(err)
	assert.NotContains(t, msg, "ABC-def_xyz")
	assert.Contains(t, msg, "bot<redacted>")
}
