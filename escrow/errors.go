package escrow

import "errors"

var (
	// ErrInvalidRequest marks malformed input: non-positive amounts, milestone
	// sum mismatches, unsupported payment methods, releases above the
	// available balance and split percentages not summing to 100.
	ErrInvalidRequest = errors.New("escrow: invalid request")
	// ErrNotFound indicates the account identifier is unknown.
	ErrNotFound = errors.New("escrow: account not found")
	// ErrConflict indicates the operation is incompatible with the account's
	// current state.
	ErrConflict = errors.New("escrow: state conflict")
	// ErrForbidden is returned when a release lacks mutual consent or an
	// arbiter approval.
	ErrForbidden = errors.New("escrow: release not authorized")
	// ErrUpstream wraps Payment Rail failures so callers can retry without
	// assuming the account changed.
	ErrUpstream = errors.New("escrow: payment rail failure")
)

var errNilStore = errors.New("escrow engine: store not configured")
