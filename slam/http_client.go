package slam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds one download of a remote frame log
	DefaultFetchTimeout = 60 * time.Second

	// DefaultMaxRetries is how many times a remote frame log is requested
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// frame logs carry every ray of a run, so the limit is generous
	maxResponseBytes = 256 << 20
)

// FetchOption tunes FetchFrameLog
type FetchOption func(*frameFetcher)

// WithTimeout sets the per-request timeout of the default client
func WithTimeout(d time.Duration) FetchOption {
	return func(f *frameFetcher) { f.timeout = d }
}

// WithMaxRetries sets how many attempts are made; values below one mean one
func WithMaxRetries(n int) FetchOption {
	return func(f *frameFetcher) { f.attempts = n }
}

// WithBaseBackoff sets the first wait between attempts; it doubles after each
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(f *frameFetcher) { f.backoff = d }
}

// WithHTTPClient replaces the default client
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *frameFetcher) { f.client = client }
}

type frameFetcher struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

// errTransport marks failures worth another attempt
var errTransport = errors.New("transport")

// FetchFrameLog downloads a JSON-lines frame log over HTTP(S). Network
// errors and bad status codes are retried with exponential backoff; a log
// that downloads but does not parse fails immediately.
func FetchFrameLog(ctx context.Context, url string, opts ...FetchOption) ([]Frame, error) {
	if url == "" {
		return nil, errors.New("fetch frame log: URL is empty")
	}

	f := &frameFetcher{
		url:      url,
		timeout:  DefaultFetchTimeout,
		attempts: DefaultMaxRetries,
		backoff:  defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.attempts = max(f.attempts, 1)
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}

	wait := f.backoff
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("fetch frame log: %w", ctx.Err())
			case <-timer.C:
			}
			wait *= 2
		}

		frames, err := f.get(ctx)
		if err == nil {
			return frames, nil
		}
		if !errors.Is(err, errTransport) {
			return nil, fmt.Errorf("fetch frame log: %w", err)
		}
		lastErr = err
		Logf("[HTTP] frame log attempt %d/%d failed: %v", attempt, f.attempts, err)
	}

	return nil, fmt.Errorf("fetch frame log: all %d attempts failed: %w", f.attempts, lastErr)
}

// get makes one request and parses the body as it streams in
func (f *frameFetcher) get(ctx context.Context) ([]Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", f.url, err)
	}
	req.Header.Set("Accept", "application/x-ndjson, application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", errTransport, f.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %s", errTransport, f.url, resp.Status)
	}

	return ParseFrameLog(io.LimitReader(resp.Body, maxResponseBytes))
}
