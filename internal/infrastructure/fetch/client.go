// Package fetch provides the resilient HTTP client used for runtime
// archive downloads.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/appyard/appyard/internal/infrastructure/config"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/infrastructure/resilience"
)

// Client wraps resty with retries, an optional byte-rate limit, and a
// circuit breaker so a dead mirror fails fast.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
	limiter *rate.Limiter
	log     *logging.Logger
}

// NewClient creates a download client from process configuration.
func NewClient(cfg config.FetchConfig, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Component("fetch")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil // Disable logging

	restyClient := resty.New()
	restyClient.
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(30*time.Second).
		SetHeader("User-Agent", "Appyard/1.0")

	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New("downloads", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Mirrors vary in reliability; trip only on a sustained outage.
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	var limiter *rate.Limiter
	if cfg.BytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), cfg.BytesPerSecond)
	}

	return &Client{
		resty:   restyClient,
		breaker: breaker,
		limiter: limiter,
		log:     log,
	}
}

// request opens a raw-body GET honoring the breaker state.
func (c *Client) request(ctx context.Context, url string) (*resty.Response, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= 400 {
		resp.RawBody().Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status())
	}
	return resp, nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
