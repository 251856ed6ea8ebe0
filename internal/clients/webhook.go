// internal/clients/webhook.go
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"github.com/jules-labs/lending/internal/notify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrWebhookRejected is returned when the receiver answers with a 4xx
// status. Such deliveries are not retried.
var ErrWebhookRejected = errors.New("webhook rejected event")

// WebhookConfig controls delivery to an HTTP endpoint.
type WebhookConfig struct {
	URL             string
	Timeout         time.Duration
	RetryAttempts   uint
	InitialInterval time.Duration
	// MaxFailures consecutive failed deliveries open the breaker for
	// OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// WebhookSink posts notification events as JSON to a single URL. It is a
// notify.Sink and is meant to sit behind a notify.Dispatcher.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retries uint
	initial time.Duration
	logger  *slog.Logger
}

func NewWebhookSink(cfg WebhookConfig, logger *slog.Logger) *WebhookSink {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	s := &WebhookSink{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		retries: cfg.RetryAttempts,
		initial: cfg.InitialInterval,
		logger:  logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notify-webhook",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

var _ notify.Sink = (*WebhookSink)(nil)

// Deliver posts event, retrying transient failures with exponential
// backoff. While the breaker is open deliveries fail immediately with
// gobreaker.ErrOpenState.
func (s *WebhookSink) Deliver(ctx context.Context, event notify.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.initial
		return backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, s.post(ctx, body)
		}, backoff.WithBackOff(b), backoff.WithMaxTries(s.retries))
	})
	if err != nil {
		return fmt.Errorf("deliver %s to webhook: %w", event.Kind, err)
	}
	return nil
}

// State reports the breaker state.
func (s *WebhookSink) State() gobreaker.State {
	return s.breaker.State()
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode))
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}
