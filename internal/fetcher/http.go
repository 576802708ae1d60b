// Package fetcher downloads issuer card pages politely: one rate limiter per
// host, retries on transient failures, permanent failures surfaced as such.
package fetcher

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cardscope/card-pipeline/internal/resilience"
)

// defaultUserAgents rotate per request when no fixed UserAgent is set. Bank
// sites are quicker to block an unfamiliar agent string than to rate limit.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// Options configures the HTTP fetcher.
type Options struct {
	// UserAgent pins one agent string; empty rotates defaultUserAgents.
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// MinDelay is the minimum spacing between requests to one host.
	MinDelay time.Duration
	// BackoffMultiplier scales the retry backoff after each attempt.
	BackoffMultiplier float64
}

// HTTPFetcher implements issuer.PageFetcher using net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTP creates an HTTPFetcher with the given options.
func NewHTTP(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MinDelay == 0 {
		opts.MinDelay = time.Second
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: map[string]*rate.Limiter{},
	}
}

// limiterFor returns the per-host limiter, creating it on first use. Burst
// of 1 keeps request spacing at MinDelay exactly.
func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.opts.MinDelay), 1)
		f.limiters[host] = lim
	}
	return lim
}

func (f *HTTPFetcher) userAgent() string {
	if f.opts.UserAgent != "" {
		return f.opts.UserAgent
	}
	return defaultUserAgents[rand.IntN(len(defaultUserAgents))]
}

// FetchPage fetches a URL and returns the body. Transient failures are
// retried with backoff; a 4xx response other than 408/429 fails immediately
// as permanent.
func (f *HTTPFetcher) FetchPage(ctx context.Context, rawURL string) (string, error) {
	body, _, err := f.Fetch(ctx, rawURL)
	return body, err
}

// retryConfig builds the per-request retry configuration from the fetcher
// options.
func (f *HTTPFetcher) retryConfig(rawURL string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = f.opts.MaxRetries
	if f.opts.BackoffMultiplier > 0 {
		cfg.Multiplier = f.opts.BackoffMultiplier
	}
	cfg.OnRetry = resilience.RetryLogger("fetcher", rawURL)
	return cfg
}

// Fetch is FetchPage plus the final HTTP status code, for callers that
// record it.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, int, error) {
	cfg := f.retryConfig(rawURL)

	var body string
	var status int
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		body, status, err = f.fetchOnce(ctx, rawURL)
		return err
	})
	return body, status, err
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (string, int, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return "", 0, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, resilience.NewPermanentError(eris.Wrap(err, "fetcher: create request"), 0)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		// Network errors are worth retrying.
		return "", 0, resilience.NewTransientError(eris.Wrapf(err, "fetcher: get %s", rawURL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		ferr := eris.Errorf("fetcher: status %d from %s", resp.StatusCode, rawURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			zap.L().Warn("transient http status, will retry",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode))
			return "", resp.StatusCode, resilience.NewTransientError(ferr, resp.StatusCode)
		}
		return "", resp.StatusCode, resilience.NewPermanentError(ferr, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, resilience.NewTransientError(eris.Wrapf(err, "fetcher: read body %s", rawURL), resp.StatusCode)
	}
	return string(data), resp.StatusCode, nil
}
