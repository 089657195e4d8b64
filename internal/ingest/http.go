package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/metrics"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUpstream    = errors.New("upstream error")
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// FetchResult describes one completed upstream request.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
}

// fetcher performs GET requests with exponential backoff behind a circuit
// breaker. Rate limits and 5xx responses are retried; other failures are not.
type fetcher struct {
	source     string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	retryWait  time.Duration
	maxElapsed time.Duration
	log        *zap.SugaredLogger
}

func newFetcher(source string, client *http.Client, log *zap.SugaredLogger) *fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &fetcher{
		source: source,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        source,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
		retryWait:  backoff.DefaultInitialInterval,
		maxElapsed: 2 * time.Minute,
		log:        log,
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (f *fetcher) get(ctx context.Context, url string) ([]byte, *FetchResult, error) {
	result := &FetchResult{}
	var body []byte

	operation := func() error {
		start := time.Now()
		out, err := f.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			result.HTTPStatus = resp.StatusCode

			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %w", ErrUpstream, &statusError{resp.StatusCode, truncate(b, 200)})
			case resp.StatusCode != http.StatusOK:
				return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrUpstream, &statusError{resp.StatusCode, truncate(b, 200)}))
			}
			return b, nil
		})
		metrics.UpstreamLatency.WithLabelValues(f.source).Observe(time.Since(start).Seconds())

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.UpstreamCallsTotal.WithLabelValues(f.source, "circuit_open").Inc()
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrCircuitOpen, f.source))
		}
		if err != nil {
			metrics.UpstreamCallsTotal.WithLabelValues(f.source, statusLabel(result.HTTPStatus)).Inc()
			return err
		}
		metrics.UpstreamCallsTotal.WithLabelValues(f.source, "200").Inc()
		body = out.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.retryWait
	bo.MaxElapsedTime = f.maxElapsed
	notify := func(err error, wait time.Duration) {
		f.log.Warnw(f.source+": retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, result, fmt.Errorf("%s: %w", f.source, err)
	}
	result.ResponseSize = len(body)
	return body, result, nil
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
