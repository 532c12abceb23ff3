package twofactor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/logging"
)

// ErrDispatcherClosed is returned by Dispatch once Close has begun.
var ErrDispatcherClosed = apperrors.New(apperrors.CodeUnavailable, "code delivery is shutting down")

// Delivery is one code to hand to an out-of-band channel.
type Delivery struct {
	UserID      string    `json:"user_id"`
	Method      Method    `json:"method"`
	Destination string    `json:"destination"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Sender delivers a code over email or SMS.
type Sender interface {
	Send(ctx context.Context, delivery Delivery) error
}

type failureRecorder interface {
	DeliveryFailure(method string)
}

// Dispatcher sends codes in the background with bounded retries.
type Dispatcher struct {
	sender     Sender
	attempts   uint
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	recorder   failureRecorder
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Close so no Add follows the final Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher. recorder may be nil.
func NewDispatcher(sender Sender, cfg Config, recorder failureRecorder, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:   sender,
		attempts: cfg.DeliveryAttempts,
		timeout:  cfg.DeliveryTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		recorder: recorder,
		logger:   logging.OrDiscard(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch starts delivery and returns immediately. After Close it refuses
// new work with ErrDispatcherClosed.
func (d *Dispatcher) Dispatch(delivery Delivery) error {
	if d == nil || d.sender == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(delivery)
	}()
	return nil
}

func (d *Dispatcher) deliver(delivery Delivery) {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()
		return struct{}{}, d.sender.Send(ctx, delivery)
	}
	_, err := backoff.Retry(d.ctx, operation,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Warn("retrying code delivery",
				"method", string(delivery.Method),
				"user_id", delivery.UserID,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}),
	)
	if err == nil {
		return
	}
	d.logger.Error("code delivery failed",
		"method", string(delivery.Method),
		"user_id", delivery.UserID,
		"attempts", attempt,
		"error", err,
	)
	if d.recorder != nil {
		d.recorder.DeliveryFailure(string(delivery.Method))
	}
}

// Wait blocks until every dispatched delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Close abandons pending retries and waits for in-flight sends to return.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// LogSender writes codes to the log. It is meant for local development.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the delivery.
func (s LogSender) Send(_ context.Context, delivery Delivery) error {
	logging.OrDiscard(s.Logger).Info("one-time code issued",
		"method", string(delivery.Method),
		"user_id", delivery.UserID,
		"destination", delivery.Destination,
		"code", delivery.Code,
		"expires_at", delivery.ExpiresAt,
	)
	return nil
}

// WebhookSender posts deliveries as JSON to an external gateway that owns
// the actual email and SMS providers.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// Send posts one delivery. Client errors are not retried.
func (s WebhookSender) Send(ctx context.Context, delivery Delivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode delivery: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build delivery request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post delivery: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("delivery rejected: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("delivery gateway: status %d", resp.StatusCode)
	}
}

// NewSender picks the webhook sender when a URL is configured and the log
// sender otherwise.
func NewSender(cfg Config, logger *slog.Logger) Sender {
	if cfg.WebhookURL != "" {
		return WebhookSender{URL: cfg.WebhookURL, Client: &http.Client{Timeout: cfg.withDefaults().DeliveryTimeout}}
	}
	return LogSender{Logger: logger}
}
