package escrowdb

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"pactum/escrow"
)

// AuditEmitter persists every engine event to escrow_events. Events are
// emitted after the account write commits, so a failed insert is logged and
// never rolls back the state change.
type AuditEmitter struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewAuditEmitter constructs an emitter writing through db.
func NewAuditEmitter(db *gorm.DB, logger *slog.Logger) *AuditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{db: db, logger: logger}
}

// Emit implements escrow.Emitter.
func (a *AuditEmitter) Emit(ctx context.Context, evt escrow.Event) {
	if a == nil || a.db == nil {
		return
	}
	rec, err := newEventRecord(evt)
	if err == nil {
		err = a.db.WithContext(context.WithoutCancel(ctx)).Create(rec).Error
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "escrow audit write failed",
			"type", evt.Type,
			"account", evt.AccountID,
			"error", err)
	}
}
