package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pactum/escrow"
	"pactum/payments"
)

type errorResponse struct {
	Error string `json:"error"`
}

func money(v decimal.Decimal) string {
	return v.StringFixed(escrow.MoneyPlaces)
}

type milestoneInput struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

type createRequest struct {
	ContractID      string           `json:"contract_id"`
	TotalAmount     string           `json:"total_amount"`
	DepositorID     string           `json:"depositor_id"`
	BeneficiaryID   string           `json:"beneficiary_id"`
	DepositDeadline *time.Time       `json:"deposit_deadline"`
	Milestones      []milestoneInput `json:"milestones"`
}

func (req createRequest) toEngine() (escrow.CreateRequest, error) {
	total, err := escrow.ParseAmount(req.TotalAmount)
	if err != nil {
		return escrow.CreateRequest{}, err
	}
	out := escrow.CreateRequest{
		ContractID:      req.ContractID,
		TotalAmount:     total,
		DepositorID:     req.DepositorID,
		BeneficiaryID:   req.BeneficiaryID,
		DepositDeadline: req.DepositDeadline,
	}
	for _, m := range req.Milestones {
		amount, err := escrow.ParseAmount(m.Amount)
		if err != nil {
			return escrow.CreateRequest{}, err
		}
		out.Milestones = append(out.Milestones, escrow.MilestoneInput{ID: m.ID, Label: m.Label, Amount: amount})
	}
	return out, nil
}

type depositRequest struct {
	PaymentMethod string         `json:"payment_method"`
	Payer         payments.Payer `json:"payer"`
}

type confirmDepositRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

type syncRequest struct {
	Reference string `json:"reference"`
}

type shareInput struct {
	PartyID string `json:"party_id"`
	Percent string `json:"percent"`
}

func toShares(in []shareInput) ([]escrow.Share, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]escrow.Share, 0, len(in))
	for _, s := range in {
		pct, err := decimal.NewFromString(strings.TrimSpace(s.Percent))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid split percent %q", escrow.ErrInvalidRequest, s.Percent)
		}
		out = append(out, escrow.Share{PartyID: s.PartyID, Percent: pct})
	}
	return out, nil
}

type releaseRequest struct {
	ApprovedBy []string     `json:"approved_by"`
	Splits     []shareInput `json:"splits"`
}

type partialReleaseRequest struct {
	Amount     string       `json:"amount"`
	Milestone  string       `json:"milestone"`
	ApprovedBy []string     `json:"approved_by"`
	Splits     []shareInput `json:"splits"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

type freezeRequest struct {
	DisputeID string `json:"dispute_id"`
}

type milestoneView struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Amount     string     `json:"amount"`
	Released   bool       `json:"released"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	ApprovedBy []string   `json:"approved_by,omitempty"`
}

func newMilestoneView(m escrow.Milestone) milestoneView {
	return milestoneView{
		ID:         m.ID,
		Label:      m.Label,
		Amount:     money(m.Amount),
		Released:   m.Released,
		ReleasedAt: m.ReleasedAt,
		ApprovedBy: m.ApprovedBy,
	}
}

type depositView struct {
	Reference   string    `json:"reference,omitempty"`
	Amount      string    `json:"amount"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type accountView struct {
	ID              string          `json:"id"`
	ContractID      string          `json:"contract_id"`
	DepositorID     string          `json:"depositor_id"`
	BeneficiaryID   string          `json:"beneficiary_id"`
	Currency        string          `json:"currency"`
	TotalAmount     string          `json:"total_amount"`
	DepositedAmount string          `json:"deposited_amount"`
	ReleasedAmount  string          `json:"released_amount"`
	FrozenAmount    string          `json:"frozen_amount"`
	RefundedAmount  string          `json:"refunded_amount"`
	PlatformFee     string          `json:"platform_fee"`
	Available       string          `json:"available"`
	Status          escrow.Status   `json:"status"`
	DepositDeadline *time.Time      `json:"deposit_deadline,omitempty"`
	Milestones      []milestoneView `json:"milestones,omitempty"`
	Deposits        []depositView   `json:"deposits,omitempty"`
	DisputeID       string          `json:"dispute_id,omitempty"`
	FrozenAt        *time.Time      `json:"frozen_at,omitempty"`
	RefundReason    string          `json:"refund_reason,omitempty"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func newAccountView(acc *escrow.Account) accountView {
	view := accountView{
		ID:              acc.ID,
		ContractID:      acc.ContractID,
		DepositorID:     acc.DepositorID,
		BeneficiaryID:   acc.BeneficiaryID,
		Currency:        acc.Currency,
		TotalAmount:     money(acc.TotalAmount),
		DepositedAmount: money(acc.DepositedAmount),
		ReleasedAmount:  money(acc.ReleasedAmount),
		FrozenAmount:    money(acc.FrozenAmount),
		RefundedAmount:  money(acc.RefundedAmount),
		PlatformFee:     money(acc.PlatformFee),
		Available:       money(acc.Available()),
		Status:          acc.Status,
		DepositDeadline: acc.DepositDeadline,
		DisputeID:       acc.DisputeID,
		FrozenAt:        acc.FrozenAt,
		RefundReason:    acc.RefundReason,
		RefundedAt:      acc.RefundedAt,
		Version:         acc.Version,
		CreatedAt:       acc.CreatedAt,
		UpdatedAt:       acc.UpdatedAt,
	}
	for _, m := range acc.Milestones {
		view.Milestones = append(view.Milestones, newMilestoneView(m))
	}
	for _, d := range acc.Deposits {
		view.Deposits = append(view.Deposits, depositView{Reference: d.Reference, Amount: money(d.Amount), ConfirmedAt: d.ConfirmedAt})
	}
	return view
}

type balanceView struct {
	AccountID   string `json:"account_id"`
	Currency    string `json:"currency"`
	Available   string `json:"available"`
	Frozen      string `json:"frozen"`
	Released    string `json:"released"`
	PlatformFee string `json:"platform_fee"`
}

func newBalanceView(b escrow.Balance) balanceView {
	return balanceView{
		AccountID:   b.AccountID,
		Currency:    b.Currency,
		Available:   money(b.Available),
		Frozen:      money(b.Frozen),
		Released:    money(b.Released),
		PlatformFee: money(b.PlatformFee),
	}
}

type instructionView struct {
	AccountID         string          `json:"account_id"`
	PaymentMethod     payments.Method `json:"payment_method"`
	Amount            string          `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
	InstructionCode   string          `json:"instruction_code,omitempty"`
	ExternalReference string          `json:"external_reference"`
	DocumentURL       string          `json:"document_url,omitempty"`
	DigitableLine     string          `json:"digitable_line,omitempty"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
}

func newInstructionView(ins *escrow.DepositInstruction) instructionView {
	return instructionView{
		AccountID:         ins.AccountID,
		PaymentMethod:     ins.Method,
		Amount:            money(ins.Amount),
		Currency:          ins.Currency,
		Description:       ins.Description,
		InstructionCode:   ins.InstructionCode,
		ExternalReference: ins.ExternalReference,
		DocumentURL:       ins.DocumentURL,
		DigitableLine:     ins.DigitableLine,
		DueDate:           ins.DueDate,
		ExpiresAt:         ins.ExpiresAt,
	}
}

type payoutView struct {
	PartyID string `json:"party_id"`
	Amount  string `json:"amount"`
}

type releaseView struct {
	AccountID        string         `json:"account_id"`
	AmountReleased   string         `json:"amount_released"`
	TotalReleased    string         `json:"total_released"`
	RemainingBalance string         `json:"remaining_balance"`
	Status           escrow.Status  `json:"status"`
	Milestone        *milestoneView `json:"milestone,omitempty"`
	Payouts          []payoutView   `json:"payouts,omitempty"`
}

func newReleaseView(res *escrow.ReleaseResult) releaseView {
	view := releaseView{
		AccountID:        res.AccountID,
		AmountReleased:   money(res.AmountReleased),
		TotalReleased:    money(res.TotalReleased),
		RemainingBalance: money(res.RemainingBalance),
		Status:           res.Status,
	}
	if res.Milestone != nil {
		m := newMilestoneView(*res.Milestone)
		view.Milestone = &m
	}
	for _, p := range res.Payouts {
		view.Payouts = append(view.Payouts, payoutView{PartyID: p.PartyID, Amount: money(p.Amount)})
	}
	return view
}

type refundView struct {
	AccountID      string        `json:"account_id"`
	AmountRefunded string        `json:"amount_refunded"`
	Status         escrow.Status `json:"status"`
	Reason         string        `json:"reason,omitempty"`
}

type feeView struct {
	Amount      string `json:"amount"`
	FeePercent  string `json:"fee_percent"`
	PlatformFee string `json:"platform_fee"`
	NetAmount   string `json:"net_amount"`
	Currency    string `json:"currency"`
}

type eventView struct {
	Type       string            `json:"type"`
	Status     escrow.Status     `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func escrowInvalid(msg string) error {
	return fmt.Errorf("%w: %s", escrow.ErrInvalidRequest, msg)
}
