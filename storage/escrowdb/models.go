package escrowdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pactum/escrow"
)

// AccountRecord is the persisted form of an escrow.Account. ActiveContractID
// mirrors ContractID while the account is open and is NULL once it reaches a
// terminal status, so the unique index admits one open account per contract.
type AccountRecord struct {
	ID               string          `gorm:"size:64;primaryKey"`
	ContractID       string          `gorm:"size:128;index;not null"`
	ActiveContractID *string         `gorm:"size:128;uniqueIndex"`
	DepositorID      string          `gorm:"size:128;not null"`
	BeneficiaryID    string          `gorm:"size:128;not null"`
	Currency         string          `gorm:"size:8;not null"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	DepositedAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	ReleasedAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	FrozenAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	RefundedAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	PlatformFee      decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Status           string          `gorm:"size:32;index;not null"`
	DepositDeadline  *time.Time
	Milestones       datatypes.JSON
	Deposits         datatypes.JSON
	DisputeID        string `gorm:"size:128"`
	FrozenAt         *time.Time
	RefundReason     string `gorm:"size:512"`
	RefundedAt       *time.Time
	Version          int64 `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName implements gorm's tabler interface.
func (AccountRecord) TableName() string { return "escrow_accounts" }

// EventRecord is one entry of the escrow audit trail.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	EventID    string `gorm:"size:64;uniqueIndex;not null"`
	AccountID  string `gorm:"size:64;index;not null"`
	ContractID string `gorm:"size:128;index"`
	Type       string `gorm:"size:64;index;not null"`
	Status     string `gorm:"size:32"`
	Attributes datatypes.JSON
	OccurredAt time.Time `gorm:"index"`
}

// TableName implements gorm's tabler interface.
func (EventRecord) TableName() string { return "escrow_events" }

// IdempotencyKey stores the first response produced for a client supplied
// Idempotency-Key so retries replay it instead of re-executing.
type IdempotencyKey struct {
	Key       string `gorm:"size:128;primaryKey"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:16"`
	Path      string `gorm:"size:256"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName implements gorm's tabler interface.
func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// AutoMigrate creates or updates the escrow tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AccountRecord{}, &EventRecord{}, &IdempotencyKey{})
}

func newAccountRecord(acc *escrow.Account) (*AccountRecord, error) {
	milestones, err := json.Marshal(acc.Milestones)
	if err != nil {
		return nil, fmt.Errorf("encode milestones: %w", err)
	}
	deposits, err := json.Marshal(acc.Deposits)
	if err != nil {
		return nil, fmt.Errorf("encode deposits: %w", err)
	}
	rec := &AccountRecord{
		ID:              acc.ID,
		ContractID:      acc.ContractID,
		DepositorID:     acc.DepositorID,
		BeneficiaryID:   acc.BeneficiaryID,
		Currency:        acc.Currency,
		TotalAmount:     acc.TotalAmount,
		DepositedAmount: acc.DepositedAmount,
		ReleasedAmount:  acc.ReleasedAmount,
		FrozenAmount:    acc.FrozenAmount,
		RefundedAmount:  acc.RefundedAmount,
		PlatformFee:     acc.PlatformFee,
		Status:          string(acc.Status),
		DepositDeadline: acc.DepositDeadline,
		Milestones:      datatypes.JSON(milestones),
		Deposits:        datatypes.JSON(deposits),
		DisputeID:       acc.DisputeID,
		FrozenAt:        acc.FrozenAt,
		RefundReason:    acc.RefundReason,
		RefundedAt:      acc.RefundedAt,
		Version:         acc.Version,
		CreatedAt:       acc.CreatedAt,
		UpdatedAt:       acc.UpdatedAt,
	}
	if !acc.Status.Terminal() {
		contract := acc.ContractID
		rec.ActiveContractID = &contract
	}
	return rec, nil
}

// columns returns the mutable columns of the record for a versioned update.
func (r *AccountRecord) columns() map[string]any {
	return map[string]any{
		"active_contract_id": r.ActiveContractID,
		"deposited_amount":   r.DepositedAmount,
		"released_amount":    r.ReleasedAmount,
		"frozen_amount":      r.FrozenAmount,
		"refunded_amount":    r.RefundedAmount,
		"status":             r.Status,
		"milestones":         r.Milestones,
		"deposits":           r.Deposits,
		"dispute_id":         r.DisputeID,
		"frozen_at":          r.FrozenAt,
		"refund_reason":      r.RefundReason,
		"refunded_at":        r.RefundedAt,
		"version":            r.Version,
		"updated_at":         r.UpdatedAt,
	}
}

// toAccount decodes the record. Amounts are re-rounded to cents because some
// drivers hand decimal columns back as floats.
func (r *AccountRecord) toAccount() (*escrow.Account, error) {
	acc := &escrow.Account{
		ID:              r.ID,
		ContractID:      r.ContractID,
		DepositorID:     r.DepositorID,
		BeneficiaryID:   r.BeneficiaryID,
		Currency:        r.Currency,
		TotalAmount:     escrow.RoundMoney(r.TotalAmount),
		DepositedAmount: escrow.RoundMoney(r.DepositedAmount),
		ReleasedAmount:  escrow.RoundMoney(r.ReleasedAmount),
		FrozenAmount:    escrow.RoundMoney(r.FrozenAmount),
		RefundedAmount:  escrow.RoundMoney(r.RefundedAmount),
		PlatformFee:     escrow.RoundMoney(r.PlatformFee),
		Status:          escrow.Status(r.Status),
		DepositDeadline: utcPtr(r.DepositDeadline),
		DisputeID:       r.DisputeID,
		FrozenAt:        utcPtr(r.FrozenAt),
		RefundReason:    r.RefundReason,
		RefundedAt:      utcPtr(r.RefundedAt),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if !acc.Status.Valid() {
		return nil, fmt.Errorf("escrowdb: account %s has unknown status %q", r.ID, r.Status)
	}
	if len(r.Milestones) > 0 && string(r.Milestones) != "null" {
		if err := json.Unmarshal(r.Milestones, &acc.Milestones); err != nil {
			return nil, fmt.Errorf("decode milestones: %w", err)
		}
	}
	if len(r.Deposits) > 0 && string(r.Deposits) != "null" {
		if err := json.Unmarshal(r.Deposits, &acc.Deposits); err != nil {
			return nil, fmt.Errorf("decode deposits: %w", err)
		}
	}
	return acc, nil
}

func newEventRecord(evt escrow.Event) (*EventRecord, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return &EventRecord{
		EventID:    uuid.NewString(),
		AccountID:  evt.AccountID,
		ContractID: evt.ContractID,
		Type:       evt.Type,
		Status:     string(evt.Status),
		Attributes: datatypes.JSON(attrs),
		OccurredAt: evt.OccurredAt.UTC(),
	}, nil
}

func (r *EventRecord) toEvent() (escrow.Event, error) {
	evt := escrow.Event{
		Type:       r.Type,
		AccountID:  r.AccountID,
		ContractID: r.ContractID,
		Status:     escrow.Status(r.Status),
		OccurredAt: r.OccurredAt.UTC(),
	}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &evt.Attributes); err != nil {
			return escrow.Event{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return evt, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
