// Package notify delivers customer notifications after a core operation has committed.
// Delivery failures are logged and never reach the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Kind string

const (
	KindTransfer Kind = "transaction"
	KindLoan     Kind = "loan"
	KindCard     Kind = "card"
)

type Notification struct {
	UserID  uuid.UUID         `json:"user_id"`
	Kind    Kind              `json:"type"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

// Dispatcher accepts notifications. Implementations must not block the caller on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Dispatch(context.Context, Notification) {}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Dispatch(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// For returns the notifications addressed to user.
func (r *Recorder) For(user uuid.UUID) []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.UserID == user {
			out = append(out, n)
		}
	}
	return out
}

// DefaultMaxInFlight caps concurrent webhook deliveries when no limit is configured.
const DefaultMaxInFlight = 64

// Webhook POSTs each notification as JSON in the background. At most maxInFlight deliveries run
// at once; notifications arriving while every slot is busy are dropped and logged. After five
// consecutive failures the breaker stops calling the endpoint for a while.
type Webhook struct {
	url      string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	inFlight *semaphore.Weighted
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// WebhookOption tunes a Webhook.
type WebhookOption func(*Webhook)

// WithMaxInFlight bounds concurrent deliveries. Values below 1 keep the default.
func WithMaxInFlight(n int) WebhookOption {
	return func(w *Webhook) {
		if n > 0 {
			w.inFlight = semaphore.NewWeighted(int64(n))
		}
	}
}

func NewWebhook(url string, timeout time.Duration, logger *zap.Logger, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		breaker:  newDeliveryBreaker(url, logger),
		inFlight: semaphore.NewWeighted(DefaultMaxInFlight),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

const (
	breakerTripAfter = 5
	breakerCooldown  = 10 * time.Second
)

// newDeliveryBreaker opens after breakerTripAfter consecutive failed deliveries and lets one
// trial request through once breakerCooldown has passed.
func newDeliveryBreaker(url string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-webhook",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("notification webhook breaker changed state",
				zap.String("url", url),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (w *Webhook) Dispatch(ctx context.Context, n Notification) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	if !w.inFlight.TryAcquire(1) {
		w.logger.Warn("notification dropped: webhook deliveries saturated",
			zap.String("user_id", n.UserID.String()),
			zap.String("kind", string(n.Kind)),
		)
		return
	}
	// Detached from the request: the caller's context ends with the response.
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.inFlight.Release(1)
		if err := w.send(ctx, n); err != nil {
			w.logger.Warn("notification delivery failed",
				zap.String("user_id", n.UserID.String()),
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func (w *Webhook) send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	_, err = w.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
