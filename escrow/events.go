package escrow

import (
	"context"
	"time"
)

const (
	EventTypeCreated           = "escrow.created"
	EventTypeDepositRequested  = "escrow.deposit_requested"
	EventTypeDepositConfirmed  = "escrow.deposit_confirmed"
	EventTypeReleased          = "escrow.released"
	EventTypePartiallyReleased = "escrow.partially_released"
	EventTypeRefunded          = "escrow.refunded"
	EventTypeFrozen            = "escrow.frozen"
)

// Event is a structured state change emitted by the engine after the
// corresponding write has been committed.
type Event struct {
	Type       string            `json:"type"`
	AccountID  string            `json:"accountId"`
	ContractID string            `json:"contractId"`
	Status     Status            `json:"status"`
	Attributes map[string]string `json:"attributes"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Emitter broadcasts engine events to downstream subscribers such as the
// audit log and metrics.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(context.Context, Event) {}

// MultiEmitter fans an event out to every configured emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(ctx context.Context, evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, evt)
		}
	}
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(context.Context, Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(ctx context.Context, evt Event) { f(ctx, evt) }

func newAccountEvent(eventType string, acc *Account, at time.Time, attrs map[string]string) Event {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	evt := Event{Type: eventType, Attributes: attrs, OccurredAt: at}
	if acc == nil {
		return evt
	}
	evt.AccountID = acc.ID
	evt.ContractID = acc.ContractID
	evt.Status = acc.Status
	attrs["currency"] = acc.Currency
	attrs["deposited"] = formatMoney(acc.DepositedAmount)
	attrs["released"] = formatMoney(acc.ReleasedAmount)
	attrs["frozen"] = formatMoney(acc.FrozenAmount)
	attrs["platformFee"] = formatMoney(acc.PlatformFee)
	return evt
}
