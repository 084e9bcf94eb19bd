// Package notify delivers escrow engine events to external webhook
// subscribers. Deliveries are signed with HMAC-SHA256 and retried with
// exponential backoff; the engine never waits on a subscriber.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pactum/escrow"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Pactum-Signature"

const (
	defaultMaxAttempts = 5
	defaultBaseBackoff = time.Second
	maxBackoff         = 5 * time.Minute
)

// Subscriber is a webhook endpoint. An empty Events list receives every
// event type.
type Subscriber struct {
	URL    string
	Secret string
	Events []string
}

func (s Subscriber) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Payload is the JSON body posted to subscribers.
type Payload struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	AccountID  string            `json:"account_id"`
	ContractID string            `json:"contract_id"`
	Status     string            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRetry configures the attempt budget and the first backoff step.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if base > 0 {
			d.baseBackoff = base
		}
	}
}

// WithQueue sets the queue capacity and the age after which undelivered
// events are dropped.
func WithQueue(capacity int, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.queueCapacity = capacity
		d.queueTTL = ttl
	}
}

// WithIDGenerator overrides how delivery ids are produced.
func WithIDGenerator(gen func() string) Option {
	return func(d *Dispatcher) {
		if gen != nil {
			d.newID = gen
		}
	}
}

// Dispatcher implements escrow.Emitter by queueing one delivery per matching
// subscriber. Run drains the queue.
type Dispatcher struct {
	subscribers   []Subscriber
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	baseBackoff   time.Duration
	queueCapacity int
	queueTTL      time.Duration
	newID         func() string
	queue         *queue
}

// NewDispatcher validates the subscribers and builds a dispatcher.
func NewDispatcher(subscribers []Subscriber, opts ...Option) (*Dispatcher, error) {
	for i, s := range subscribers {
		u, err := url.Parse(strings.TrimSpace(s.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("notify: subscriber %d has invalid url %q", i, s.URL)
		}
		if strings.TrimSpace(s.Secret) == "" {
			return nil, fmt.Errorf("notify: subscriber %d requires a signing secret", i)
		}
	}
	d := &Dispatcher{
		subscribers:   append([]Subscriber(nil), subscribers...),
		client:        &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:        slog.Default(),
		maxAttempts:   defaultMaxAttempts,
		baseBackoff:   defaultBaseBackoff,
		queueCapacity: defaultQueueCapacity,
		queueTTL:      defaultQueueTTL,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = newQueue(d.queueCapacity, d.queueTTL, time.Now)
	return d, nil
}

// Emit implements escrow.Emitter. It never blocks on delivery.
func (d *Dispatcher) Emit(_ context.Context, evt escrow.Event) {
	if d == nil {
		return
	}
	payload := Payload{
		ID:         d.newID(),
		Type:       evt.Type,
		AccountID:  evt.AccountID,
		ContractID: evt.ContractID,
		Status:     string(evt.Status),
		Attributes: evt.Attributes,
		OccurredAt: evt.OccurredAt.UTC(),
	}
	for i, s := range d.subscribers {
		if s.wants(evt.Type) {
			d.queue.push(task{payload: payload, subscriber: i})
		}
	}
}

// Pending returns the number of queued deliveries.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		t, ok := d.queue.pop(ctx)
		if !ok {
			return
		}
		d.deliver(ctx, t)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t task) {
	sub := d.subscribers[t.subscriber]
	err := d.post(ctx, sub, t.payload)
	if err == nil {
		d.queue.metrics.recordDelivery("success")
		d.logger.DebugContext(ctx, "webhook delivered",
			"type", t.payload.Type,
			"account", t.payload.AccountID,
			"url", sub.URL)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	attempt := t.attempt + 1
	if attempt >= d.maxAttempts {
		d.queue.metrics.recordDelivery("exhausted")
		d.logger.ErrorContext(ctx, "webhook delivery abandoned",
			"type", t.payload.Type,
			"account", t.payload.AccountID,
			"url", sub.URL,
			"attempts", attempt,
			"error", err)
		return
	}
	d.queue.metrics.recordDelivery("retry")
	d.logger.WarnContext(ctx, "webhook delivery failed",
		"type", t.payload.Type,
		"account", t.payload.AccountID,
		"url", sub.URL,
		"attempt", attempt,
		"error", err)
	t.attempt = attempt
	t.notBefore = time.Now().Add(d.backoff(attempt))
	d.queue.push(t)
}

func (d *Dispatcher) post(ctx context.Context, sub Subscriber, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	req.Header.Set("X-Pactum-Event", payload.Type)
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber responded %s", resp.Status)
	}
	return nil
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := d.baseBackoff * time.Duration(1<<uint(attempt-1))
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

// Sign returns the hex encoded HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(secret string, payload []byte, signature string) bool {
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}
