package notify

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// task is one pending delivery of an event to a single subscriber.
type task struct {
	payload    Payload
	subscriber int
	attempt    int
	notBefore  time.Time
	enqueuedAt time.Time
}

const (
	defaultQueueCapacity = 1024
	defaultQueueTTL      = 15 * time.Minute
)

// queue is a bounded FIFO of delivery tasks. On overflow the oldest task is
// dropped; tasks older than ttl are discarded before delivery. Retries stay
// in the queue with a notBefore and are handed out once due.
type queue struct {
	mu      sync.Mutex
	tasks   ring[task]
	ttl     time.Duration
	now     func() time.Time
	metrics *queueMetrics
	ready   chan struct{}
}

func newQueue(capacity int, ttl time.Duration, now func() time.Time) *queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &queue{
		tasks:   newRing[task](capacity),
		ttl:     ttl,
		now:     now,
		metrics: sharedQueueMetrics(),
		ready:   make(chan struct{}, 1),
	}
}

func (q *queue) push(t task) {
	q.mu.Lock()
	now := q.now()
	if t.enqueuedAt.IsZero() {
		t.enqueuedAt = now
	}
	q.evictExpiredLocked(now)
	if _, dropped := q.tasks.push(t); dropped {
		q.metrics.recordDropped("overflow", 1)
	}
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

const idlePoll = 250 * time.Millisecond

// pop waits for the oldest task that is due. Tasks still backing off are
// skipped, so a retry never delays fresh deliveries queued behind it. It
// returns false once ctx is done.
func (q *queue) pop(ctx context.Context) (task, bool) {
	for {
		q.mu.Lock()
		now := q.now()
		q.evictExpiredLocked(now)
		next, wait, ok := q.takeDueLocked(now)
		q.mu.Unlock()
		if ok {
			return next, true
		}
		if wait <= 0 || wait > idlePoll {
			wait = idlePoll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return task{}, false
		case <-q.ready:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// takeDueLocked removes the first task whose notBefore has passed. Otherwise
// it reports how long until the earliest task becomes due.
func (q *queue) takeDueLocked(now time.Time) (task, time.Duration, bool) {
	var wait time.Duration
	for i := 0; i < q.tasks.len(); i++ {
		t := q.tasks.at(i)
		delay := t.notBefore.Sub(now)
		if delay <= 0 {
			return q.tasks.removeAt(i), 0, true
		}
		if wait == 0 || delay < wait {
			wait = delay
		}
	}
	return task{}, wait, false
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.len()
}

func (q *queue) evictExpiredLocked(now time.Time) {
	if q.ttl <= 0 {
		return
	}
	expired := q.tasks.filter(func(t task) bool {
		return now.Sub(t.enqueuedAt) <= q.ttl
	})
	if expired > 0 {
		q.metrics.recordDropped("ttl", expired)
	}
}

// ring is a fixed-size ring buffer that overwrites the oldest element on overflow.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) (T, bool) {
	var zero T
	if len(r.buf) == 0 {
		return zero, true
	}
	if r.size == len(r.buf) {
		dropped := r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return dropped, true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return zero, false
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

func (r *ring[T]) at(i int) T { return r.buf[(r.head+i)%len(r.buf)] }

// removeAt deletes the i-th element from the head, keeping the order of the rest.
func (r *ring[T]) removeAt(i int) T {
	n := len(r.buf)
	v := r.at(i)
	for j := i; j < r.size-1; j++ {
		r.buf[(r.head+j)%n] = r.buf[(r.head+j+1)%n]
	}
	var zero T
	r.buf[(r.head+r.size-1)%n] = zero
	r.size--
	return v
}

// filter keeps the elements for which keep returns true and reports how many
// were removed.
func (r *ring[T]) filter(keep func(T) bool) int {
	n := len(r.buf)
	kept := 0
	for i := 0; i < r.size; i++ {
		v := r.buf[(r.head+i)%n]
		if keep(v) {
			r.buf[(r.head+kept)%n] = v
			kept++
		}
	}
	var zero T
	for i := kept; i < r.size; i++ {
		r.buf[(r.head+i)%n] = zero
	}
	removed := r.size - kept
	r.size = kept
	return removed
}

func (r *ring[T]) len() int { return r.size }

var (
	queueMetricsOnce sync.Once
	queueMetricsInst *queueMetrics
)

type queueMetrics struct {
	dropped   metric.Int64Counter
	delivered metric.Int64Counter
}

func sharedQueueMetrics() *queueMetrics {
	queueMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("pactum/notify")
		dropped, err := meter.Int64Counter("pactum.webhooks.dropped")
		if err != nil {
			dropped, _ = noop.NewMeterProvider().Meter("pactum/notify").Int64Counter("pactum.webhooks.dropped")
		}
		delivered, err := meter.Int64Counter("pactum.webhooks.deliveries")
		if err != nil {
			delivered, _ = noop.NewMeterProvider().Meter("pactum/notify").Int64Counter("pactum.webhooks.deliveries")
		}
		queueMetricsInst = &queueMetrics{dropped: dropped, delivered: delivered}
	})
	return queueMetricsInst
}

func (m *queueMetrics) recordDropped(reason string, count int) {
	if m == nil || m.dropped == nil || count <= 0 {
		return
	}
	m.dropped.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *queueMetrics) recordDelivery(outcome string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
