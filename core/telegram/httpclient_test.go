package telegram

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}
}

func TestRetryTransportReplaysBody(t *testing.T) {
	var bodies []string
	calls := 0
	rt := &retryTransport{
		maxRetries: 2,
		backoff:    time.Millisecond,
		base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			data, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(data))
			if calls == 1 {
				return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
			}
			return okResponse(), nil
		}),
	}

	req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/sendMessage", strings.NewReader("chat_id=1"))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"chat_id=1", "chat_id=1"}, bodies)
}

func TestRetryTransportDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	rt := &retryTransport{
		maxRetries: 3,
		backoff:    time.Millisecond,
		base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("tls: bad certificate")
		}),
	}
	req, _ := http.NewRequest(http.MethodGet, "https://example.org", nil)
	_, err := rt.RoundTrip(req)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBuildHTTPClientDefaults(t *testing.T) {
	client := BuildHTTPClient(HTTPClientOptions{})
	assert.Equal(t, defaultClientTimeout, client.Timeout)
	rt, ok := client.Transport.(*retryTransport)
	require.True(t, ok)
	assert.Equal(t, defaultRetryAttempts, rt.maxRetries)

	client = BuildHTTPClient(HTTPClientOptions{Timeout: time.Minute, RetryAttempts: -1})
	assert.Equal(t, time.Minute, client.Timeout)
	assert.Zero(t, client.Transport.(*retryTransport).maxRetries)
}
