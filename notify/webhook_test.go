package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pactum/escrow"
)

type capture struct {
	mu       sync.Mutex
	payloads []Payload
	verified []bool
}

func (c *capture) handler(secret string, failFirst int32) http.Handler {
	var calls int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var p Payload
		_ = json.Unmarshal(body, &p)
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		c.verified = append(c.verified, Verify(secret, body, r.Header.Get(SignatureHeader)))
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func sampleEvent(eventType string) escrow.Event {
	return escrow.Event{
		Type:       eventType,
		AccountID:  "acc-1",
		ContractID: "contract-1",
		Status:     escrow.StatusFunded,
		Attributes: map[string]string{"amount": "100.00"},
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherDeliversSignedPayloads(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler("s3cret", 0))
	defer srv.Close()

	d, err := NewDispatcher([]Subscriber{{URL: srv.URL, Secret: "s3cret"}}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(ctx, sampleEvent(escrow.EventTypeDepositConfirmed))
	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	require.True(t, got.verified[0])
	require.Equal(t, escrow.EventTypeDepositConfirmed, got.payloads[0].Type)
	require.Equal(t, "acc-1", got.payloads[0].AccountID)
	require.Equal(t, "100.00", got.payloads[0].Attributes["amount"])
	require.NotEmpty(t, got.payloads[0].ID)
}

func TestDispatcherRetriesFailedDeliveries(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler("k", 2))
	defer srv.Close()

	d, err := NewDispatcher([]Subscriber{{URL: srv.URL, Secret: "k"}},
		WithHTTPClient(srv.Client()),
		WithRetry(5, time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(ctx, sampleEvent(escrow.EventTypeReleased))
	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, err := NewDispatcher([]Subscriber{{URL: srv.URL, Secret: "k"}},
		WithHTTPClient(srv.Client()),
		WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(ctx, sampleEvent(escrow.EventTypeRefunded))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Zero(t, d.Pending())
}

func TestDispatcherFiltersByEventType(t *testing.T) {
	d, err := NewDispatcher([]Subscriber{
		{URL: "https://a.example/hook", Secret: "a", Events: []string{escrow.EventTypeFrozen}},
		{URL: "https://b.example/hook", Secret: "b"},
	})
	require.NoError(t, err)

	d.Emit(context.Background(), sampleEvent(escrow.EventTypeCreated))
	require.Equal(t, 1, d.Pending())
	d.Emit(context.Background(), sampleEvent(escrow.EventTypeFrozen))
	require.Equal(t, 3, d.Pending())
}

func TestNewDispatcherValidatesSubscribers(t *testing.T) {
	_, err := NewDispatcher([]Subscriber{{URL: "ftp://x", Secret: "s"}})
	require.Error(t, err)
	_, err = NewDispatcher([]Subscriber{{URL: "https://x.example", Secret: " "}})
	require.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"type":"escrow.created"}`)
	sig := Sign("secret", body)
	require.True(t, Verify("secret", body, sig))
	require.False(t, Verify("other", body, sig))
	require.False(t, Verify("secret", body, "zz"))
}

func TestBackoffIsCapped(t *testing.T) {
	d := &Dispatcher{baseBackoff: time.Second}
	require.Equal(t, time.Second, d.backoff(1))
	require.Equal(t, 4*time.Second, d.backoff(3))
	require.Equal(t, maxBackoff, d.backoff(20))
}
