// Package notify calls the downstream workflow endpoint after changed alert
// results are persisted.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "cdi-alert-engine/pkg/errors"
)

// BreakerConfig holds circuit breaker settings for the workflow endpoint.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "workflow-notify",
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// WorkflowClient performs the HTTP GET {base_url}/{account_id} notification.
// Any 2xx response is success; anything else, including transport failure and
// an open breaker, is failure. The caller compensates failures via requeue;
// the notification itself is never retried in place.
type WorkflowClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewWorkflowClient creates a notifier for the given base URL.
func NewWorkflowClient(baseURL string, cfg BreakerConfig, logger *zap.Logger) *WorkflowClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &WorkflowClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: breaker,
		logger:  logger,
	}
}

// Notify asks the workflow service to rerun for the given account.
func (c *WorkflowClient) Notify(ctx context.Context, accountID string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.get(ctx, accountID)
	})
	if err != nil {
		return apperrors.NewTransient("workflow notification failed", err)
	}
	return nil
}

func (c *WorkflowClient) get(ctx context.Context, accountID string) error {
	target := c.baseURL + "/" + url.PathEscape(accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("workflow endpoint returned %s", resp.Status)
	}
	return nil
}
