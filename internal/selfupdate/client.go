// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/manifest"
)

const (
	// maxManifestBytes is the upper bound on manifest response size (1 MB).
	// Prevents unbounded memory consumption from malicious or malformed responses.
	maxManifestBytes = 1 << 20

	defaultRetries    = 1
	defaultRetryDelay = 3 * time.Second
)

type (
	// ProgressFunc receives the download progress as a fraction in [0, 1].
	// It is only called when the total size is known.
	ProgressFunc func(fraction float64)

	// HTTPStatusError is returned for non-2xx responses.
	// It wraps ErrTransport so callers can use errors.Is for classification.
	HTTPStatusError struct {
		URL        string
		StatusCode int
	}

	// Client fetches manifests and artifacts over HTTPS.
	Client struct {
		httpClient       *http.Client
		userAgent        string
		retries          uint64
		retryDelay       time.Duration
		maxManifestBytes int64
		logger           *log.Logger
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)

	progressWriter struct {
		w          io.Writer
		total      int64
		written    int64
		onProgress ProgressFunc
		writeErr   error
	}
)

// Error reports the status code and the redacted URL.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Unwrap returns ErrTransport so callers can use errors.Is.
func (e *HTTPStatusError) Unwrap() error { return ErrTransport }

// Temporary reports whether the server signalled a transient condition.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithRetry sets how many times a transient failure is retried and the delay
// between attempts. Zero retries disables retrying.
func WithRetry(retries uint64, delay time.Duration) ClientOption {
	return func(cl *Client) {
		cl.retries = retries
		cl.retryDelay = delay
	}
}

// WithMaxManifestBytes overrides the manifest response size limit.
func WithMaxManifestBytes(n int64) ClientOption {
	return func(cl *Client) {
		if n > 0 {
			cl.maxManifestBytes = n
		}
	}
}

// WithClientLogger sets the logger used for retry notices.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a Client with sensible defaults.
// Defaults: userAgent="postmir-update/dev", one retry after 3s,
// httpClient=http.DefaultClient.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:       http.DefaultClient,
		userAgent:        "postmir-update/dev",
		retries:          defaultRetries,
		retryDelay:       defaultRetryDelay,
		maxManifestBytes: maxManifestBytes,
		logger:           log.NewWithOptions(os.Stderr, log.Options{Prefix: "client"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchManifest retrieves and validates the manifest at manifestURL. Caches
// are bypassed so a stale manifest is never served.
func (c *Client) FetchManifest(ctx context.Context, manifestURL string) (*manifest.Manifest, error) {
	var body []byte
	err := c.retry(ctx, "fetching manifest", func() error {
		resp, err := c.get(ctx, manifestURL, true)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }() // read-only response body

		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxManifestBytes+1))
		if err != nil {
			return fmt.Errorf("%w: reading manifest: %w", ErrTransport, err)
		}
		if int64(len(data)) > c.maxManifestBytes {
			return backoff.Permanent(&manifest.ValidationError{Reason: fmt.Sprintf("document exceeds %d bytes", c.maxManifestBytes)})
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return manifest.Parse(body)
}

// Download streams artifactURL into dst and returns the number of bytes
// written. Responses larger than limit fail with ErrArtifactTooLarge and a body
// shorter than its Content-Length fails with ErrDownloadIncomplete. dst is
// truncated before every attempt.
func (c *Client) Download(ctx context.Context, artifactURL string, dst afero.File, limit int64, onProgress ProgressFunc) (int64, error) {
	var written int64
	err := c.retry(ctx, "downloading artifact", func() error {
		if err := resetFile(dst); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.get(ctx, artifactURL, false)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }() // read-only response body

		if limit > 0 && resp.ContentLength > limit {
			return backoff.Permanent(fmt.Errorf("%w: server reports %d bytes, limit is %d", ErrArtifactTooLarge, resp.ContentLength, limit))
		}

		pw := &progressWriter{w: dst, total: resp.ContentLength, onProgress: onProgress}
		var src io.Reader = resp.Body
		if limit > 0 {
			src = io.LimitReader(resp.Body, limit+1)
		}

		n, copyErr := io.Copy(pw, src)
		written = n
		switch {
		case limit > 0 && n > limit:
			return backoff.Permanent(fmt.Errorf("%w: more than %d bytes", ErrArtifactTooLarge, limit))
		case copyErr != nil && pw.writeErr != nil:
			return backoff.Permanent(fmt.Errorf("%w: writing artifact: %w", ErrWriteLocationUnavailable, copyErr))
		case copyErr != nil:
			return fmt.Errorf("%w: %d bytes received: %w", ErrDownloadIncomplete, n, copyErr)
		case resp.ContentLength > 0 && n < resp.ContentLength:
			return fmt.Errorf("%w: %d of %d bytes received", ErrDownloadIncomplete, n, resp.ContentLength)
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := dst.Sync(); err != nil {
		return written, fmt.Errorf("%w: syncing artifact: %w", ErrWriteLocationUnavailable, err)
	}
	return written, nil
}

// retry runs op with a constant backoff. Transport errors and incomplete
// downloads are retried; everything else is returned immediately.
func (c *Client) retry(ctx context.Context, what string, op func() error) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(c.retryDelay)
	b = backoff.WithMaxRetries(b, c.retries)
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		var permanent *backoff.PermanentError
		if err == nil || errors.As(err, &permanent) || isTransient(ctx, err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, d time.Duration) {
		c.logger.Warn("retrying after transient failure", "op", what, "attempt", attempt, "delay", d, "error", err)
	})
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrDownloadIncomplete)
}

// get issues a GET and returns the response for any 2xx status. Plain HTTP
// URLs are refused.
func (c *Client) get(ctx context.Context, rawURL string, noCache bool) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, backoff.Permanent(fmt.Errorf("%w: refusing non-https URL %s", ErrTransport, redactURL(rawURL)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, redactURL(rawURL), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &HTTPStatusError{URL: redactURL(rawURL), StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func resetFile(f afero.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncating %s: %w", ErrWriteLocationUnavailable, f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking %s: %w", ErrWriteLocationUnavailable, f.Name(), err)
	}
	return nil
}

// Write forwards to the destination and reports progress when the total is
// known. A write failure is remembered so it is not mistaken for a network error.
func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if err != nil {
		p.writeErr = err
		return n, err
	}
	if p.onProgress != nil && p.total > 0 {
		fraction := float64(p.written) / float64(p.total)
		p.onProgress(min(fraction, 1))
	}
	return n, nil
}

// redactURL strips query parameters and fragments from a URL for safe inclusion
// in error messages, preventing accidental exposure of tokens or sensitive data.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
