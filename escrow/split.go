package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Share assigns a percentage of a released amount to a party.
type Share struct {
	PartyID string          `json:"partyId"`
	Percent decimal.Decimal `json:"percent"`
}

// Payout is the concrete allocation computed for a share.
type Payout struct {
	PartyID string          `json:"partyId"`
	Amount  decimal.Decimal `json:"amount"`
}

// ValidateShares checks that every share names a party, carries a positive
// percentage and that the percentages sum to exactly 100.
func ValidateShares(shares []Share) error {
	if len(shares) == 0 {
		return nil
	}
	total := decimal.Zero
	seen := make(map[string]struct{}, len(shares))
	for _, s := range shares {
		party := strings.TrimSpace(s.PartyID)
		if party == "" {
			return fmt.Errorf("%w: split party id is required", ErrInvalidRequest)
		}
		if _, dup := seen[party]; dup {
			return fmt.Errorf("%w: duplicate split party %s", ErrInvalidRequest, party)
		}
		seen[party] = struct{}{}
		if !s.Percent.IsPositive() {
			return fmt.Errorf("%w: split percent for %s must be positive", ErrInvalidRequest, party)
		}
		total = total.Add(s.Percent)
	}
	if !total.Equal(hundred) {
		return fmt.Errorf("%w: split percentages sum to %s, expected 100", ErrInvalidRequest, total.String())
	}
	return nil
}

// Split divides amount across shares. Each allocation is truncated to cents
// and the leftover cents go to the first share, so the allocations always sum
// to amount exactly.
func Split(amount decimal.Decimal, shares []Share) ([]Payout, error) {
	if err := ValidateShares(shares); err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, nil
	}
	payouts := make([]Payout, len(shares))
	allocated := decimal.Zero
	for i, s := range shares {
		part := amount.Mul(s.Percent).Div(hundred).Truncate(MoneyPlaces)
		payouts[i] = Payout{PartyID: strings.TrimSpace(s.PartyID), Amount: part}
		allocated = allocated.Add(part)
	}
	payouts[0].Amount = payouts[0].Amount.Add(amount.Sub(allocated))
	return payouts, nil
}
