package callback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/xerrors"
)

type Client struct {
	HTTPClient *http.Client
	// MaxRetries bounds the attempts after the first one.
	MaxRetries     uint64
	InitialBackOff time.Duration
	MaxBackOff     time.Duration
}

func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: 1 * time.Second,
		},
		MaxRetries:     3,
		InitialBackOff: 10 * time.Millisecond,
		MaxBackOff:     1 * time.Second,
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "unexpected status: " + http.StatusText(e.code)
}

// Send PATCHes data to url as JSON. Gateway errors, 409 and transient network
// failures are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, url string, data []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackOff
	b.MaxInterval = c.MaxBackOff
	b.MaxElapsedTime = 0

	operation := func() error {
		request, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(xerrors.Errorf("failed to create request: %w", err))
		}
		request.Header.Set("Content-Type", "application/json")

		response, err := c.HTTPClient.Do(request)
		if err != nil {
			if retriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer response.Body.Close()
		_, _ = io.Copy(io.Discard, response.Body)

		switch {
		case response.StatusCode >= 200 && response.StatusCode < 300:
			return nil
		case response.StatusCode >= 502 && response.StatusCode < 505, response.StatusCode == http.StatusConflict:
			return &statusError{response.StatusCode}
		default:
			return backoff.Permanent(&statusError{response.StatusCode})
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)); err != nil {
		return xerrors.Errorf("failed to send callback: %w", err)
	}
	return nil
}

func retriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
