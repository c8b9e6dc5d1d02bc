package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxBytes   int64 = 5 << 20
	defaultRetryDelay       = 500 * time.Millisecond
)

// Fetcher retrieves the raw manifest document.
type Fetcher interface {
	Fetch(ctx context.Context, previousETag string) (FetchResult, error)
}

// FetchResult contains the fetched manifest bytes and response metadata.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// FetchError reports a non-success HTTP response.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch manifest %s: unexpected status %s", e.URL, e.Status)
}

// IsRetryable reports whether the response class is worth retrying.
// Server errors and throttling are; client errors are not.
func (e *FetchError) IsRetryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests
}

// HTTPFetcher retrieves a manifest over HTTP with ETag caching and
// bounded retries on transient failures.
type HTTPFetcher struct {
	url        string
	client     *http.Client
	maxBytes   int64
	maxRetries int
	retryDelay time.Duration
}

// FetcherOption adjusts HTTPFetcher construction.
type FetcherOption func(*HTTPFetcher)

// WithMaxRetries bounds retry attempts after the initial request.
// Zero disables retries.
func WithMaxRetries(n int) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxRetries = n
	}
}

// WithRetryDelay sets the pause between retry attempts.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.retryDelay = d
	}
}

// NewHTTPFetcher constructs an HTTPFetcher with the given URL and timeout.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64, opts ...FetcherOption) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("manifest url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	f := &HTTPFetcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes:   maxBytes,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads the manifest, optionally using ETag caching. Transient
// failures are retried up to the configured budget; client errors and
// context cancellation stop immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	attempts := f.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FetchResult{}, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		result, err := f.fetchOnce(ctx, previousETag)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		lastErr = err

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			if !fetchErr.IsRetryable() {
				return FetchResult{}, err
			}
			continue
		}
		if !isRetryableError(err) {
			return FetchResult{}, err
		}
	}

	if f.maxRetries > 0 {
		return FetchResult{}, fmt.Errorf("fetch manifest after %d attempts: %w", attempts, lastErr)
	}
	return FetchResult{}, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			NotModified:  true,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, &FetchError{
			URL:        f.url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("manifest body is empty")
	}

	return FetchResult{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// FileFetcher reads the manifest from local disk. The ETag is derived
// from the file modification time and size so unchanged files
// short-circuit the way HTTP 304 responses do.
type FileFetcher struct {
	path     string
	maxBytes int64
}

// NewFileFetcher constructs a FileFetcher for the given path.
func NewFileFetcher(path string, maxBytes int64) (*FileFetcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("manifest path must not be empty")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &FileFetcher{path: path, maxBytes: maxBytes}, nil
}

// Fetch reads the manifest file unless it is unchanged since previousETag.
func (f *FileFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("stat manifest: %w", err)
	}
	etag := strconv.FormatInt(info.ModTime().UnixNano(), 10) + "-" + strconv.FormatInt(info.Size(), 10)
	if previousETag != "" && previousETag == etag {
		return FetchResult{ETag: etag, NotModified: true}, nil
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read manifest: %w", err)
	}
	if int64(len(raw)) > f.maxBytes {
		return FetchResult{}, fmt.Errorf("manifest body exceeds %d bytes", f.maxBytes)
	}
	if len(raw) == 0 {
		return FetchResult{}, errors.New("manifest body is empty")
	}

	return FetchResult{
		Body:         raw,
		ETag:         etag,
		LastModified: info.ModTime().UTC().Format(http.TimeFormat),
	}, nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("manifest body exceeds %d bytes", maxBytes)
	}
	return body, nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"EOF",
		"timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
