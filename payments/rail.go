// Package payments describes the Payment Rail collaborator that turns escrow
// deposit intents into PIX charges or boleto statements, and reports the
// amounts the payment service provider has actually settled.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method identifies a supported deposit instrument.
type Method string

const (
	MethodPix    Method = "pix"
	MethodBoleto Method = "boleto"
)

var (
	// ErrUnsupportedMethod is returned for payment methods the rail cannot
	// generate instructions for.
	ErrUnsupportedMethod = errors.New("payments: unsupported payment method")
	// ErrNotSettled indicates the provider has not confirmed the charge yet.
	ErrNotSettled = errors.New("payments: charge not settled")
)

// ParseMethod normalises raw into a supported Method.
func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodPix:
		return MethodPix, nil
	case MethodBoleto:
		return MethodBoleto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, raw)
	}
}

// Payer carries the identity data the provider needs to issue a charge.
type Payer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email,omitempty"`
}

// Charge is an instant-payment instruction (PIX copy-and-paste code).
type Charge struct {
	InstructionCode   string     `json:"instructionCode"`
	ExternalReference string     `json:"externalReference"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// Statement is a payable bank slip (boleto).
type Statement struct {
	Reference     string    `json:"reference"`
	DocumentURL   string    `json:"documentUrl"`
	DigitableLine string    `json:"digitableLine,omitempty"`
	DueDate       time.Time `json:"dueDate"`
}

// Rail generates deposit instructions and confirms settlement amounts.
type Rail interface {
	GenerateCharge(ctx context.Context, amount decimal.Decimal, payer Payer, description string) (*Charge, error)
	GenerateStatement(ctx context.Context, amount decimal.Decimal, payer Payer, dueDate time.Time, description string) (*Statement, error)
	ConfirmSettlement(ctx context.Context, reference string) (decimal.Decimal, error)
}
