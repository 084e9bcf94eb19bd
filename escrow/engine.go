package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pactum/observability"
	"pactum/observability/logging"
	"pactum/payments"
)

// DefaultFeePercent is the platform fee applied when no rate is configured.
var DefaultFeePercent = decimal.RequireFromString("1.5")

const (
	// DefaultCurrency is the single currency of the current deployment.
	DefaultCurrency = "BRL"
	// DefaultStatementDueIn is the boleto validity used when the account has
	// no usable deposit deadline.
	DefaultStatementDueIn = 72 * time.Hour
)

// Config carries the economic parameters of the engine. It is passed in
// explicitly so tests can run several fee rates side by side.
type Config struct {
	FeePercent     decimal.Decimal
	Currency       string
	StatementDueIn time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FeePercent:     DefaultFeePercent,
		Currency:       DefaultCurrency,
		StatementDueIn: DefaultStatementDueIn,
	}
}

func (c Config) validate() error {
	if c.FeePercent.IsNegative() || c.FeePercent.GreaterThan(hundred) {
		return fmt.Errorf("escrow engine: fee percent out of range: %s", c.FeePercent)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("escrow engine: currency required")
	}
	return nil
}

// Engine holds all custody business logic. Each operation works on a single
// account and relies on the Store to serialize concurrent mutations.
type Engine struct {
	store   Store
	rail    payments.Rail
	cfg     Config
	emitter Emitter
	metrics *observability.EscrowMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithRail configures the Payment Rail used for deposit instructions and
// settlement lookups.
func WithRail(rail payments.Rail) Option { return func(e *Engine) { e.rail = rail } }

// WithEmitter configures the event emitter. Nil resets to a no-op emitter.
func WithEmitter(emitter Emitter) Option {
	return func(e *Engine) {
		if emitter == nil {
			emitter = NoopEmitter{}
		}
		e.emitter = emitter
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.EscrowMetrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source. Primarily intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides account and milestone identifier generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine wires an engine to its store.
func NewEngine(store Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errNilStore
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.StatementDueIn <= 0 {
		cfg.StatementDueIn = DefaultStatementDueIn
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:   store,
		cfg:     cfg,
		emitter: NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("pactum/escrow"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's economic parameters.
func (e *Engine) Config() Config { return e.cfg }

// CalculateFee applies the configured fee percentage to amount.
func (e *Engine) CalculateFee(amount decimal.Decimal) decimal.Decimal {
	return CalculateFee(amount, e.cfg.FeePercent)
}

// MilestoneInput describes a milestone supplied at creation.
type MilestoneInput struct {
	ID     string          `json:"id,omitempty"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateRequest carries the parameters of a new custody account.
type CreateRequest struct {
	ContractID      string           `json:"contractId"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	DepositorID     string           `json:"depositorId"`
	BeneficiaryID   string           `json:"beneficiaryId"`
	DepositDeadline *time.Time       `json:"depositDeadline,omitempty"`
	Milestones      []MilestoneInput `json:"milestones,omitempty"`
}

// Create validates and persists a new account in PENDING status. The platform
// fee is fixed here for the account's lifetime.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (acc *Account, err error) {
	ctx, done := e.observe(ctx, "create", "")
	defer func() { done(err) }()

	contractID := strings.TrimSpace(req.ContractID)
	depositor := strings.TrimSpace(req.DepositorID)
	beneficiary := strings.TrimSpace(req.BeneficiaryID)
	switch {
	case contractID == "":
		return nil, fmt.Errorf("%w: contract id is required", ErrInvalidRequest)
	case depositor == "":
		return nil, fmt.Errorf("%w: depositor id is required", ErrInvalidRequest)
	case beneficiary == "":
		return nil, fmt.Errorf("%w: beneficiary id is required", ErrInvalidRequest)
	case depositor == beneficiary:
		return nil, fmt.Errorf("%w: depositor and beneficiary must differ", ErrInvalidRequest)
	}
	if err := requirePositive("total amount", req.TotalAmount); err != nil {
		return nil, err
	}
	milestones, err := e.buildMilestones(req.TotalAmount, req.Milestones)
	if err != nil {
		return nil, err
	}

	now := e.now()
	acc = &Account{
		ID:              e.newID(),
		ContractID:      contractID,
		DepositorID:     depositor,
		BeneficiaryID:   beneficiary,
		Currency:        e.cfg.Currency,
		TotalAmount:     req.TotalAmount,
		DepositedAmount: decimal.Zero,
		ReleasedAmount:  decimal.Zero,
		FrozenAmount:    decimal.Zero,
		RefundedAmount:  decimal.Zero,
		PlatformFee:     e.CalculateFee(req.TotalAmount),
		Status:          StatusPending,
		DepositDeadline: cloneTime(req.DepositDeadline),
		Milestones:      milestones,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.Insert(ctx, acc); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "escrow created",
		"account", acc.ID,
		"contract", acc.ContractID,
		"total", formatMoney(acc.TotalAmount),
		"fee", formatMoney(acc.PlatformFee),
		"milestones", len(acc.Milestones))
	e.emit(ctx, newAccountEvent(EventTypeCreated, acc, now, map[string]string{
		"total": formatMoney(acc.TotalAmount),
	}))
	return acc.Clone(), nil
}

func (e *Engine) buildMilestones(total decimal.Decimal, inputs []MilestoneInput) ([]Milestone, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	sum := decimal.Zero
	ids := make(map[string]struct{}, len(inputs))
	out := make([]Milestone, 0, len(inputs))
	for i, in := range inputs {
		label := strings.TrimSpace(in.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: milestone %d label is required", ErrInvalidRequest, i)
		}
		if err := requirePositive(fmt.Sprintf("milestone %q amount", label), in.Amount); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = e.newID()
		}
		if _, dup := ids[id]; dup {
			return nil, fmt.Errorf("%w: duplicate milestone id %s", ErrInvalidRequest, id)
		}
		ids[id] = struct{}{}
		sum = sum.Add(in.Amount)
		out = append(out, Milestone{ID: id, Label: label, Amount: in.Amount})
	}
	if !sum.Equal(total) {
		return nil, fmt.Errorf("%w: milestone amounts sum to %s but total amount is %s", ErrInvalidRequest, formatMoney(sum), formatMoney(total))
	}
	return out, nil
}

// DepositRequest asks the Payment Rail for a deposit instruction.
type DepositRequest struct {
	Method string         `json:"paymentMethod"`
	Payer  payments.Payer `json:"payer"`
}

// DepositInstruction is what the depositor needs to pay the remaining amount.
type DepositInstruction struct {
	AccountID         string          `json:"accountId"`
	Method            payments.Method `json:"paymentMethod"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
	InstructionCode   string          `json:"instructionCode,omitempty"`
	ExternalReference string          `json:"externalReference"`
	DocumentURL       string          `json:"documentUrl,omitempty"`
	DigitableLine     string          `json:"digitableLine,omitempty"`
	DueDate           *time.Time      `json:"dueDate,omitempty"`
	ExpiresAt         *time.Time      `json:"expiresAt,omitempty"`
}

// Deposit generates a payment instruction for the amount still missing. It
// never changes the account: deposits are credited only by ConfirmDeposit.
func (e *Engine) Deposit(ctx context.Context, id string, req DepositRequest) (ins *DepositInstruction, err error) {
	ctx, done := e.observe(ctx, "deposit", id)
	defer func() { done(err) }()

	method, err := payments.ParseMethod(req.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	acc, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch acc.Status {
	case StatusReleased, StatusRefunded, StatusFrozen:
		return nil, fmt.Errorf("%w: cannot deposit into escrow in status %s", ErrConflict, acc.Status)
	}
	remaining := acc.TotalAmount.Sub(acc.DepositedAmount)
	if !remaining.IsPositive() {
		return nil, fmt.Errorf("%w: escrow already fully funded", ErrConflict)
	}
	if e.rail == nil {
		return nil, fmt.Errorf("%w: payment rail not configured", ErrUpstream)
	}

	description := fmt.Sprintf("Escrow deposit for contract %s", acc.ContractID)
	ins = &DepositInstruction{
		AccountID:   acc.ID,
		Method:      method,
		Amount:      remaining,
		Currency:    acc.Currency,
		Description: description,
	}
	switch method {
	case payments.MethodPix:
		charge, err := e.rail.GenerateCharge(ctx, remaining, req.Payer, description)
		if err != nil {
			return nil, fmt.Errorf("%w: generate charge: %v", ErrUpstream, err)
		}
		ins.InstructionCode = charge.InstructionCode
		ins.ExternalReference = charge.ExternalReference
		ins.ExpiresAt = cloneTime(charge.ExpiresAt)
	case payments.MethodBoleto:
		due := e.statementDueDate(acc)
		statement, err := e.rail.GenerateStatement(ctx, remaining, req.Payer, due, description)
		if err != nil {
			return nil, fmt.Errorf("%w: generate statement: %v", ErrUpstream, err)
		}
		ins.ExternalReference = statement.Reference
		ins.DocumentURL = statement.DocumentURL
		ins.DigitableLine = statement.DigitableLine
		dueDate := statement.DueDate
		ins.DueDate = &dueDate
	}

	e.logger.InfoContext(ctx, "escrow deposit instruction generated",
		"account", acc.ID,
		"method", string(method),
		"amount", formatMoney(remaining),
		"reference", ins.ExternalReference,
		logging.MaskField("payer_document", req.Payer.Document))
	e.emit(ctx, newAccountEvent(EventTypeDepositRequested, acc, e.now(), map[string]string{
		"method":    string(method),
		"amount":    formatMoney(remaining),
		"reference": ins.ExternalReference,
	}))
	return ins, nil
}

func (e *Engine) statementDueDate(acc *Account) time.Time {
	now := e.now()
	if acc.DepositDeadline != nil && acc.DepositDeadline.After(now) {
		return *acc.DepositDeadline
	}
	return now.Add(e.cfg.StatementDueIn)
}

// ConfirmDeposit credits a settled amount. A non-empty reference can only be
// credited once per account.
func (e *Engine) ConfirmDeposit(ctx context.Context, id string, amount decimal.Decimal, reference string) (acc *Account, err error) {
	ctx, done := e.observe(ctx, "confirm_deposit", id)
	defer func() { done(err) }()

	if err := requirePositive("deposit amount", amount); err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	now := e.now()
	acc, err = e.update(ctx, id, func(a *Account) error {
		if a.Status.Terminal() {
			return fmt.Errorf("%w: cannot confirm deposit in status %s", ErrConflict, a.Status)
		}
		if a.HasDeposit(reference) {
			return fmt.Errorf("%w: settlement %s already credited", ErrConflict, reference)
		}
		a.DepositedAmount = a.DepositedAmount.Add(amount)
		a.Deposits = append(a.Deposits, Deposit{Reference: reference, Amount: amount, ConfirmedAt: now})
		switch a.Status {
		case StatusFrozen, StatusPartiallyReleased:
			// funds are credited but the custody phase does not change
		default:
			if a.DepositedAmount.GreaterThanOrEqual(a.TotalAmount) {
				a.Status = StatusFunded
			} else {
				a.Status = StatusPartiallyFunded
			}
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if acc.DepositedAmount.GreaterThan(acc.TotalAmount) {
		e.logger.WarnContext(ctx, "escrow over-funded",
			"account", acc.ID,
			"deposited", formatMoney(acc.DepositedAmount),
			"total", formatMoney(acc.TotalAmount))
	}
	e.logger.InfoContext(ctx, "escrow deposit confirmed",
		"account", acc.ID,
		"amount", formatMoney(amount),
		"reference", reference,
		"status", string(acc.Status))
	e.metrics.AddAmount(acc.Currency, "deposited", amount)
	e.emit(ctx, newAccountEvent(EventTypeDepositConfirmed, acc, now, map[string]string{
		"amount":    formatMoney(amount),
		"reference": reference,
	}))
	return acc, nil
}

// SyncSettlement asks the Payment Rail how much was settled for reference and
// credits it. A pending settlement is a conflict; rail failures are upstream
// errors and leave the account untouched.
func (e *Engine) SyncSettlement(ctx context.Context, id, reference string) (acc *Account, err error) {
	ctx, done := e.observe(ctx, "sync_settlement", id)
	defer func() { done(err) }()

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: settlement reference is required", ErrInvalidRequest)
	}
	acc, err = e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.HasDeposit(reference) {
		return nil, fmt.Errorf("%w: settlement %s already credited", ErrConflict, reference)
	}
	if e.rail == nil {
		return nil, fmt.Errorf("%w: payment rail not configured", ErrUpstream)
	}
	amount, err := e.rail.ConfirmSettlement(ctx, reference)
	if err != nil {
		if errors.Is(err, payments.ErrNotSettled) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("%w: confirm settlement: %v", ErrUpstream, err)
	}
	return e.ConfirmDeposit(ctx, id, RoundMoney(amount), reference)
}

// ReleaseRequest carries the approvals for a full release and an optional
// payout split.
type ReleaseRequest struct {
	ApprovedBy []string `json:"approvedBy"`
	Splits     []Share  `json:"splits,omitempty"`
}

// PartialReleaseRequest releases a fixed amount, optionally against a
// milestone referenced by id or label.
type PartialReleaseRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Milestone  string          `json:"milestone,omitempty"`
	ApprovedBy []string        `json:"approvedBy"`
	Splits     []Share         `json:"splits,omitempty"`
}

// ReleaseResult summarises a committed release.
type ReleaseResult struct {
	AccountID        string          `json:"accountId"`
	AmountReleased   decimal.Decimal `json:"amountReleased"`
	TotalReleased    decimal.Decimal `json:"totalReleased"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	Status           Status          `json:"status"`
	Milestone        *Milestone      `json:"milestone,omitempty"`
	Payouts          []Payout        `json:"payouts,omitempty"`
}

// Release pays out everything still available after the platform fee and
// closes the account.
func (e *Engine) Release(ctx context.Context, id string, req ReleaseRequest) (res *ReleaseResult, err error) {
	ctx, done := e.observe(ctx, "release", id)
	defer func() { done(err) }()

	if err := ValidateShares(req.Splits); err != nil {
		return nil, err
	}
	approvers := normalizeApprovers(req.ApprovedBy)
	now := e.now()
	var released decimal.Decimal
	acc, err := e.update(ctx, id, func(a *Account) error {
		if !a.Status.Releasable() {
			return fmt.Errorf("%w: cannot release escrow in status %s", ErrConflict, a.Status)
		}
		if err := AuthorizeRelease(a, approvers); err != nil {
			return err
		}
		available := a.Available()
		if !available.IsPositive() {
			return fmt.Errorf("%w: no funds available to release", ErrConflict)
		}
		released = available
		a.ReleasedAmount = a.ReleasedAmount.Add(available)
		a.Status = StatusReleased
		for i := range a.Milestones {
			markMilestoneReleased(&a.Milestones[i], now, approvers)
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	payouts, err := Split(released, req.Splits)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "escrow released",
		"account", acc.ID,
		"amount", formatMoney(released),
		"approved_by", strings.Join(approvers, ","))
	e.metrics.AddAmount(acc.Currency, "released", released)
	e.emit(ctx, newAccountEvent(EventTypeReleased, acc, now, map[string]string{
		"amount":     formatMoney(released),
		"approvedBy": strings.Join(approvers, ","),
	}))
	return &ReleaseResult{
		AccountID:        acc.ID,
		AmountReleased:   released,
		TotalReleased:    acc.ReleasedAmount,
		RemainingBalance: acc.Available(),
		Status:           acc.Status,
		Payouts:          payouts,
	}, nil
}

// ReleasePartial releases amount if it fits in the available balance. A
// milestone reference that matches nothing is ignored.
func (e *Engine) ReleasePartial(ctx context.Context, id string, req PartialReleaseRequest) (res *ReleaseResult, err error) {
	ctx, done := e.observe(ctx, "release_partial", id)
	defer func() { done(err) }()

	if err := requirePositive("release amount", req.Amount); err != nil {
		return nil, err
	}
	if err := ValidateShares(req.Splits); err != nil {
		return nil, err
	}
	approvers := normalizeApprovers(req.ApprovedBy)
	now := e.now()
	var milestone *Milestone
	acc, err := e.update(ctx, id, func(a *Account) error {
		milestone = nil
		if !a.Status.Releasable() {
			return fmt.Errorf("%w: cannot release escrow in status %s", ErrConflict, a.Status)
		}
		if err := AuthorizeRelease(a, approvers); err != nil {
			return err
		}
		available := a.Available()
		if req.Amount.GreaterThan(available) {
			return fmt.Errorf("%w: requested %s exceeds available balance %s", ErrInvalidRequest, formatMoney(req.Amount), formatMoney(available))
		}
		a.ReleasedAmount = a.ReleasedAmount.Add(req.Amount)
		if a.ReleasedAmount.Add(a.PlatformFee).GreaterThanOrEqual(a.DepositedAmount) {
			a.Status = StatusReleased
		} else {
			a.Status = StatusPartiallyReleased
		}
		if m := a.FindMilestone(req.Milestone); m != nil {
			markMilestoneReleased(m, now, approvers)
			copied := *m
			copied.ReleasedAt = cloneTime(m.ReleasedAt)
			copied.ApprovedBy = append([]string(nil), m.ApprovedBy...)
			milestone = &copied
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	payouts, err := Split(req.Amount, req.Splits)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{
		"amount":     formatMoney(req.Amount),
		"approvedBy": strings.Join(approvers, ","),
	}
	if milestone != nil {
		attrs["milestone"] = milestone.ID
	}
	e.logger.InfoContext(ctx, "escrow partially released",
		"account", acc.ID,
		"amount", formatMoney(req.Amount),
		"milestone", req.Milestone,
		"status", string(acc.Status))
	e.metrics.AddAmount(acc.Currency, "released", req.Amount)
	e.emit(ctx, newAccountEvent(EventTypePartiallyReleased, acc, now, attrs))
	return &ReleaseResult{
		AccountID:        acc.ID,
		AmountReleased:   req.Amount,
		TotalReleased:    acc.ReleasedAmount,
		RemainingBalance: acc.Available(),
		Status:           acc.Status,
		Milestone:        milestone,
		Payouts:          payouts,
	}, nil
}

func markMilestoneReleased(m *Milestone, at time.Time, approvers []string) {
	if m.Released {
		return
	}
	ts := at
	m.Released = true
	m.ReleasedAt = &ts
	m.ApprovedBy = append([]string(nil), approvers...)
}

// RefundResult summarises a committed refund.
type RefundResult struct {
	AccountID      string          `json:"accountId"`
	AmountRefunded decimal.Decimal `json:"amountRefunded"`
	Status         Status          `json:"status"`
	Reason         string          `json:"reason,omitempty"`
}

// Refund returns everything deposited but not yet released to the depositor.
// Frozen funds are not subtracted from the refundable amount.
func (e *Engine) Refund(ctx context.Context, id, reason string) (res *RefundResult, err error) {
	ctx, done := e.observe(ctx, "refund", id)
	defer func() { done(err) }()

	reason = strings.TrimSpace(reason)
	now := e.now()
	var refundable decimal.Decimal
	acc, err := e.update(ctx, id, func(a *Account) error {
		if a.Status.Terminal() {
			return fmt.Errorf("%w: cannot refund escrow in status %s", ErrConflict, a.Status)
		}
		refundable = a.DepositedAmount.Sub(a.ReleasedAmount)
		if !refundable.IsPositive() {
			return fmt.Errorf("%w: no funds available to refund", ErrConflict)
		}
		a.RefundedAmount = refundable
		a.RefundReason = reason
		refundedAt := now
		a.RefundedAt = &refundedAt
		a.Status = StatusRefunded
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "escrow refunded",
		"account", acc.ID,
		"amount", formatMoney(refundable),
		"frozen", formatMoney(acc.FrozenAmount),
		"reason", reason)
	e.metrics.AddAmount(acc.Currency, "refunded", refundable)
	e.emit(ctx, newAccountEvent(EventTypeRefunded, acc, now, map[string]string{
		"amount": formatMoney(refundable),
		"reason": reason,
	}))
	return &RefundResult{
		AccountID:      acc.ID,
		AmountRefunded: refundable,
		Status:         acc.Status,
		Reason:         reason,
	}, nil
}

// Freeze locks deposited-minus-released funds for a dispute. There is no
// unfreeze; the dispute outcome is applied with Refund.
func (e *Engine) Freeze(ctx context.Context, id, disputeID string) (acc *Account, err error) {
	ctx, done := e.observe(ctx, "freeze", id)
	defer func() { done(err) }()

	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return nil, fmt.Errorf("%w: dispute id is required", ErrInvalidRequest)
	}
	now := e.now()
	acc, err = e.update(ctx, id, func(a *Account) error {
		if a.Status.Terminal() || a.Status == StatusFrozen {
			return fmt.Errorf("%w: cannot freeze escrow in status %s", ErrConflict, a.Status)
		}
		a.FrozenAmount = a.DepositedAmount.Sub(a.ReleasedAmount)
		a.DisputeID = disputeID
		frozenAt := now
		a.FrozenAt = &frozenAt
		a.Status = StatusFrozen
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "escrow frozen",
		"account", acc.ID,
		"dispute", disputeID,
		"frozen", formatMoney(acc.FrozenAmount))
	e.metrics.AddAmount(acc.Currency, "frozen", acc.FrozenAmount)
	e.emit(ctx, newAccountEvent(EventTypeFrozen, acc, now, map[string]string{
		"disputeId": disputeID,
	}))
	return acc, nil
}

// Get returns the stored account.
func (e *Engine) Get(ctx context.Context, id string) (*Account, error) {
	return e.store.Get(ctx, id)
}

// Balance returns the read-only balance projection of the account.
func (e *Engine) Balance(ctx context.Context, id string) (Balance, error) {
	acc, err := e.store.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return acc.Balance(), nil
}

func (e *Engine) update(ctx context.Context, id string, mutate func(*Account) error) (*Account, error) {
	acc, err := e.store.Update(ctx, id, mutate)
	if errors.Is(err, ErrStaleVersion) {
		return nil, fmt.Errorf("%w: escrow %s was modified concurrently", ErrConflict, id)
	}
	return acc, err
}

func (e *Engine) emit(ctx context.Context, evt Event) {
	if e.emitter == nil {
		return
	}
	e.metrics.RecordEvent(evt.Type)
	e.emitter.Emit(ctx, evt)
}

// observe opens a span for the operation and returns a completion callback
// that records the outcome.
func (e *Engine) observe(ctx context.Context, op, accountID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "escrow."+op, trace.WithAttributes(
		attribute.String("escrow.operation", op),
		attribute.String("escrow.account_id", accountID),
	))
	return ctx, func(err error) {
		outcome := Outcome(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			e.logger.DebugContext(ctx, "escrow operation rejected", "operation", op, "account", accountID, "error", err)
		}
		span.End()
		e.metrics.ObserveOperation(op, outcome, time.Since(start))
	}
}

// Outcome classifies err into a stable label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "error"
	}
}
