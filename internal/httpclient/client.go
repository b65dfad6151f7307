package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/metrics"
)

// StatusError reports a non-2xx response from a remote service. Callers
// that care about the exact status, such as the crawl stats re-auth
// handling, unwrap to this type.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.Code)
}

// Counter tracks daily per-service API usage. *store.Store satisfies it.
type Counter interface {
	AddAPICalls(ctx context.Context, service string, n int) error
	AddAPIErrors(ctx context.Context, service string, n int) error
	APICallsToday(ctx context.Context, service string) (int, error)
}

// Client wraps http.Client with per-service call accounting. Counted
// fetches increment the daily call counter before the request goes out,
// so the budget reflects attempts rather than successes. Failures of any
// kind increment the error counter and optionally page the operator, but
// are otherwise returned to the caller to handle.
type Client struct {
	http         *http.Client
	counter      Counter
	mailer       mail.Notifier
	notifyErrors bool
	logger       *zap.Logger
}

func New(timeout time.Duration, counter Counter, mailer mail.Notifier, notifyErrors bool, logger *zap.Logger) *Client {
	return &Client{
		http:         &http.Client{Timeout: timeout},
		counter:      counter,
		mailer:       mailer,
		notifyErrors: notifyErrors,
		logger:       logger,
	}
}

// Fetch performs a GET against rawURL and returns the response body.
func (c *Client) Fetch(ctx context.Context, service, rawURL string, countCall bool) ([]byte, error) {
	return c.FetchWithHeaders(ctx, service, rawURL, nil, countCall)
}

// FetchWithHeaders is Fetch with extra request headers, used by services
// that authenticate per request.
func (c *Client) FetchWithHeaders(ctx context.Context, service, rawURL string, headers map[string]string, countCall bool) ([]byte, error) {
	if countCall {
		if err := c.counter.AddAPICalls(ctx, service, 1); err != nil {
			c.logger.Error("counting api call",
				zap.String("service", service), zap.Error(err))
		}
		metrics.ObserveAPICall(service)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, c.fail(ctx, service, rawURL, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(ctx, service, rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(ctx, service, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, c.fail(ctx, service, rawURL, &StatusError{Code: resp.StatusCode, URL: rawURL})
	}
	return body, nil
}

// UnderBudget reports whether the service still has calls left in its
// daily budget. A budget of zero allows no calls at all; the budget
// parameters are required, so an unset value stops the job rather than
// letting it spend freely.
func (c *Client) UnderBudget(ctx context.Context, service string, budget int) (bool, error) {
	used, err := c.counter.APICallsToday(ctx, service)
	if err != nil {
		return false, err
	}
	return used < budget, nil
}

func (c *Client) fail(ctx context.Context, service, rawURL string, err error) error {
	if cerr := c.counter.AddAPIErrors(ctx, service, 1); cerr != nil {
		c.logger.Error("counting api error",
			zap.String("service", service), zap.Error(cerr))
	}
	metrics.ObserveAPIError(service)
	c.logger.Warn("remote request failed",
		zap.String("service", service),
		zap.String("url", rawURL),
		zap.Error(err))
	if c.notifyErrors {
		c.mailer.Send("Error", fmt.Sprintf("Error requesting %s: %s", rawURL, err))
	}
	return err
}
