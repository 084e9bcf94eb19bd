package escrow

import (
	"fmt"
	"strings"
)

// normalizeApprovers trims identifiers, drops blanks and removes duplicates
// while preserving order.
func normalizeApprovers(approvedBy []string) []string {
	out := make([]string, 0, len(approvedBy))
	seen := make(map[string]struct{}, len(approvedBy))
	for _, id := range approvedBy {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func hasMutualConsent(acc *Account, approvers []string) bool {
	var depositor, beneficiary bool
	for _, id := range approvers {
		switch id {
		case acc.DepositorID:
			depositor = true
		case acc.BeneficiaryID:
			beneficiary = true
		}
	}
	return depositor && beneficiary
}

// hasArbiterApproval treats any approver that is neither party as an
// arbiter. No role check is made on the identifier.
// TODO: require a verified dispute-resolution identity once the identity
// service exposes arbiter roles.
func hasArbiterApproval(acc *Account, approvers []string) bool {
	for _, id := range approvers {
		if id != acc.DepositorID && id != acc.BeneficiaryID {
			return true
		}
	}
	return false
}

// AuthorizeRelease succeeds when approvedBy holds both parties or at least one
// arbiter.
func AuthorizeRelease(acc *Account, approvedBy []string) error {
	if acc == nil {
		return fmt.Errorf("%w: nil account", ErrInvalidRequest)
	}
	approvers := normalizeApprovers(approvedBy)
	if hasMutualConsent(acc, approvers) || hasArbiterApproval(acc, approvers) {
		return nil
	}
	return fmt.Errorf("%w: approval requires depositor and beneficiary or an arbiter", ErrForbidden)
}
