package escrow

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle states of a custody account.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPartiallyFunded   Status = "PARTIALLY_FUNDED"
	StatusFunded            Status = "FUNDED"
	StatusPartiallyReleased Status = "PARTIALLY_RELEASED"
	StatusReleased          Status = "RELEASED"
	StatusRefunded          Status = "REFUNDED"
	StatusFrozen            Status = "FROZEN"
)

// Valid reports whether the status value is one of the supported states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartiallyFunded, StatusFunded, StatusPartiallyReleased,
		StatusReleased, StatusRefunded, StatusFrozen:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible out of the status.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Releasable reports whether funds may be released while the account is in
// the status.
func (s Status) Releasable() bool {
	switch s {
	case StatusFunded, StatusPartiallyFunded, StatusPartiallyReleased:
		return true
	default:
		return false
	}
}

// Milestone is a named allocation of the total amount. Milestones are
// bookkeeping only; they never authorize a release on their own.
type Milestone struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Amount     decimal.Decimal `json:"amount"`
	Released   bool            `json:"released"`
	ReleasedAt *time.Time      `json:"releasedAt,omitempty"`
	ApprovedBy []string        `json:"approvedBy,omitempty"`
}

// Matches reports whether ref identifies the milestone by id or label.
func (m *Milestone) Matches(ref string) bool {
	ref = strings.TrimSpace(ref)
	if m == nil || ref == "" {
		return false
	}
	return m.ID == ref || strings.EqualFold(strings.TrimSpace(m.Label), ref)
}

// Deposit records a confirmed settlement credited to the account.
type Deposit struct {
	Reference   string          `json:"reference,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	ConfirmedAt time.Time       `json:"confirmedAt"`
}

// Account is the custody record for a single contract. Monetary fields are
// exact decimals with two fractional digits.
type Account struct {
	ID              string          `json:"id"`
	ContractID      string          `json:"contractId"`
	DepositorID     string          `json:"depositorId"`
	BeneficiaryID   string          `json:"beneficiaryId"`
	Currency        string          `json:"currency"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	DepositedAmount decimal.Decimal `json:"depositedAmount"`
	ReleasedAmount  decimal.Decimal `json:"releasedAmount"`
	FrozenAmount    decimal.Decimal `json:"frozenAmount"`
	RefundedAmount  decimal.Decimal `json:"refundedAmount"`
	PlatformFee     decimal.Decimal `json:"platformFee"`
	Status          Status          `json:"status"`
	DepositDeadline *time.Time      `json:"depositDeadline,omitempty"`
	Milestones      []Milestone     `json:"milestones,omitempty"`
	Deposits        []Deposit       `json:"deposits,omitempty"`
	DisputeID       string          `json:"disputeId,omitempty"`
	FrozenAt        *time.Time      `json:"frozenAt,omitempty"`
	RefundReason    string          `json:"refundReason,omitempty"`
	RefundedAt      *time.Time      `json:"refundedAt,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.DepositDeadline = cloneTime(a.DepositDeadline)
	clone.FrozenAt = cloneTime(a.FrozenAt)
	clone.RefundedAt = cloneTime(a.RefundedAt)
	if a.Milestones != nil {
		clone.Milestones = make([]Milestone, len(a.Milestones))
		for i, m := range a.Milestones {
			m.ReleasedAt = cloneTime(m.ReleasedAt)
			m.ApprovedBy = append([]string(nil), m.ApprovedBy...)
			clone.Milestones[i] = m
		}
	}
	if a.Deposits != nil {
		clone.Deposits = append([]Deposit(nil), a.Deposits...)
	}
	return &clone
}

// Available returns the balance eligible for further release:
// deposited - released - frozen - fee, floored at zero. Refunds are not
// subtracted, so a refunded account still reports its unreleased remainder;
// check Status before treating the value as releasable.
func (a *Account) Available() decimal.Decimal {
	available := a.DepositedAmount.Sub(a.ReleasedAmount).Sub(a.FrozenAmount).Sub(a.PlatformFee)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// Committed returns released + frozen + fee, the portion of the deposit that
// is no longer free.
func (a *Account) Committed() decimal.Decimal {
	return a.ReleasedAmount.Add(a.FrozenAmount).Add(a.PlatformFee)
}

// Balance projects the account into its read-only balance view.
func (a *Account) Balance() Balance {
	return Balance{
		AccountID:   a.ID,
		Currency:    a.Currency,
		Available:   a.Available(),
		Frozen:      a.FrozenAmount,
		Released:    a.ReleasedAmount,
		PlatformFee: a.PlatformFee,
	}
}

// HasDeposit reports whether a settlement with the given reference was
// already credited.
func (a *Account) HasDeposit(reference string) bool {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false
	}
	for _, d := range a.Deposits {
		if d.Reference == reference {
			return true
		}
	}
	return false
}

// FindMilestone returns the milestone matching ref by id or label.
func (a *Account) FindMilestone(ref string) *Milestone {
	for i := range a.Milestones {
		if a.Milestones[i].Matches(ref) {
			return &a.Milestones[i]
		}
	}
	return nil
}

// Balance is the read-only projection returned by the balance accessor.
type Balance struct {
	AccountID   string          `json:"accountId"`
	Currency    string          `json:"currency"`
	Available   decimal.Decimal `json:"available"`
	Frozen      decimal.Decimal `json:"frozen"`
	Released    decimal.Decimal `json:"released"`
	PlatformFee decimal.Decimal `json:"platformFee"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
