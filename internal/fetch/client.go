package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dsm-tiler/internal/model"
)

// Options configures the download client.
type Options struct {
	// MaxAttempts bounds the number of sequential attempts per source.
	// Default: 3
	MaxAttempts int

	// Timeout applies to each attempt, body transfer included.
	// Default: 30s
	Timeout time.Duration

	// Backoff is the initial wait between attempts.
	// Default: 1s
	Backoff time.Duration

	// MaxBackoff caps the exponential backoff.
	// Default: 30s
	MaxBackoff time.Duration

	// InsecureSkipVerify disables certificate verification. Status and timeout
	// failures still apply.
	InsecureSkipVerify bool

	UserAgent string
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
		Backoff:     time.Second,
		MaxBackoff:  30 * time.Second,
		UserAgent:   "dsm-tiler",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = def.MaxBackoff
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = def.UserAgent
	}
	return o
}

// Result describes one Fetch call.
type Result struct {
	URL      string
	Path     string
	Cached   bool
	Bytes    int64
	Attempts []model.DownloadAttempt
}

type Client struct {
	http *http.Client
	opts Options
	now  func() time.Time
}

func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user toggle
		},
	}
	return &Client{
		http: &http.Client{Transport: transport},
		opts: opts,
		now:  time.Now,
	}
}

func (c *Client) Options() Options {
	return c.opts
}

// Fetch downloads ref to dest. An existing non-empty dest is treated as a prior
// successful download and returned without touching the network.
func (c *Client) Fetch(ctx context.Context, logger *slog.Logger, ref, dest string) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rawURL, err := NormalizeReference(ref)
	if err != nil {
		return Result{}, err
	}
	res := Result{URL: rawURL, Path: dest}

	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		res.Cached = true
		res.Bytes = info.Size()
		logger.Info("fetch.cached", "url", rawURL, "path", dest, "bytes", info.Size())
		return res, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return res, fmt.Errorf("create destination dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx, attempt-1); err != nil {
				return res, fmt.Errorf("download canceled: %w", err)
			}
		}

		started := c.now()
		n, err := c.attempt(ctx, rawURL, dest)
		rec := model.DownloadAttempt{Number: attempt, Elapsed: c.now().Sub(started)}
		if err == nil {
			rec.Outcome = model.AttemptSuccess
			res.Attempts = append(res.Attempts, rec)
			res.Bytes = n
			logger.Info("fetch.ok",
				"url", rawURL,
				"path", dest,
				"bytes", n,
				"attempt", attempt,
				"elapsed_ms", rec.Elapsed.Milliseconds(),
			)
			return res, nil
		}

		rec.Err = err.Error()
		lastErr = err
		if ctx.Err() != nil {
			rec.Outcome = model.AttemptFatalError
			res.Attempts = append(res.Attempts, rec)
			return res, fmt.Errorf("download canceled: %w", ctx.Err())
		}
		if !isRetryable(err) {
			rec.Outcome = model.AttemptFatalError
			res.Attempts = append(res.Attempts, rec)
			logger.Warn("fetch.attempt.fatal", "url", rawURL, "attempt", attempt, "err", err)
			break
		}
		rec.Outcome = model.AttemptTransientError
		res.Attempts = append(res.Attempts, rec)
		logger.Warn("fetch.attempt.retry",
			"url", rawURL,
			"attempt", attempt,
			"max_attempts", c.opts.MaxAttempts,
			"elapsed_ms", rec.Elapsed.Milliseconds(),
			"err", err,
		)
	}

	return res, &DownloadFailedError{
		URL:          rawURL,
		Reason:       lastErr.Error(),
		AttemptsUsed: len(res.Attempts),
		Err:          lastErr,
	}
}

// attempt performs one bounded transfer into a temp file next to dest and renames it
// into place only after the body was fully received.
func (c *Client) attempt(ctx context.Context, rawURL, dest string) (int64, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, resp.ContentLength)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return n, fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return n, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, retry int) error {
	if c.opts.Backoff <= 0 {
		return ctx.Err()
	}
	backoff := c.opts.Backoff * time.Duration(1<<uint(retry-1))
	if backoff > c.opts.MaxBackoff || backoff <= 0 {
		backoff = c.opts.MaxBackoff
	}

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedReference) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code >= 500:
			return true
		case statusErr.Code == http.StatusRequestTimeout, statusErr.Code == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}
	if isCertificateError(err) {
		return false
	}
	return true
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &invalidErr)
}
