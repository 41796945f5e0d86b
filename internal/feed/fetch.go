package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
)

// Feeds larger than this are rejected rather than buffered.
const maxFeedBytes = 10 << 20

// DefaultUserAgent identifies the aggregator to publishers; some hosts refuse
// requests without one.
const DefaultUserAgent = "StableKraft/1.0 PodcastAggregator (+https://stablekraft.app)"

// Fetcher retrieves raw feed bytes over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
	retries   uint64
	backoff   time.Duration
}

type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	// Retries is the number of additional attempts after a retryable failure.
	Retries uint64
	Backoff time.Duration
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}

	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		retries:   cfg.Retries,
		backoff:   cfg.Backoff,
	}
}

// Fetch GETs the url, retrying network errors, 429s and 5xx responses.
// Failures come back as *kraft.TransportError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	var body []byte
	err := retry.Do(ctx, retry.WithMaxRetries(f.retries, retry.NewExponential(f.backoff)), func(ctx context.Context) error {
		b, err := f.fetchOnce(ctx, url)
		var te *kraft.TransportError
		if errors.As(err, &te) && te.Retryable() {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		body = b
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveSince(metrics.FeedFetchDuration.WithLabelValues(outcome), start)

	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		// A malformed url will never succeed; don't retry it.
		return nil, fmt.Errorf("error building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &kraft.TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &kraft.TransportError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, &kraft.TransportError{URL: url, Err: err}
	}
	if len(body) > maxFeedBytes {
		return nil, fmt.Errorf("feed %s exceeds %d bytes", url, maxFeedBytes)
	}

	return body, nil
}
