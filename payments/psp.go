package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"pactum/observability/logging"
)

// PSPConfig configures the HTTP payment service provider client.
type PSPConfig struct {
	BaseURL       string
	APIKey        string
	PixKey        string
	Currency      string
	Timeout       time.Duration
	RatePerMinute int
	ChargeTTL     time.Duration
	HTTPClient    *http.Client
}

// PSPClient implements Rail against the provider's REST API. Requests are
// throttled client-side so bursts of deposit requests do not trip the
// provider's own limits.
type PSPClient struct {
	baseURL   string
	apiKey    string
	pixKey    string
	currency  string
	chargeTTL time.Duration
	http      *http.Client
	limiter   *rate.Limiter
}

type pspPayer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email,omitempty"`
}

type pixChargeRequest struct {
	Amount           string   `json:"amount"`
	Currency         string   `json:"currency"`
	PixKey           string   `json:"pixKey,omitempty"`
	Payer            pspPayer `json:"payer"`
	Description      string   `json:"description"`
	ExternalID       string   `json:"externalId,omitempty"`
	ExpiresInSeconds int64    `json:"expiresInSeconds,omitempty"`
}

type pixChargeResponse struct {
	TxID      string `json:"txid"`
	CopyPaste string `json:"copyPaste"`
	ExpiresAt string `json:"expiresAt"`
}

type boletoRequest struct {
	Amount      string   `json:"amount"`
	Currency    string   `json:"currency"`
	Payer       pspPayer `json:"payer"`
	DueDate     string   `json:"dueDate"`
	Description string   `json:"description"`
	ExternalID  string   `json:"externalId,omitempty"`
}

type boletoResponse struct {
	ID            string `json:"id"`
	PDFURL        string `json:"pdfUrl"`
	DigitableLine string `json:"digitableLine"`
	DueDate       string `json:"dueDate"`
}

type settlementResponse struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	SettledAmount string `json:"settledAmount"`
}

// settled reports whether the provider considers the charge paid.
func (r *settlementResponse) settled() bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "settled", "paid", "completed", "concluida":
		return true
	}
	return false
}

// NewPSPClient constructs a client with sane defaults.
func NewPSPClient(cfg PSPConfig) (*PSPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("payments: psp base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("payments: invalid psp base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
		burst = cfg.RatePerMinute / 10
		if burst < 1 {
			burst = 1
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "BRL"
	}
	ttl := cfg.ChargeTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PSPClient{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		pixKey:    strings.TrimSpace(cfg.PixKey),
		currency:  currency,
		chargeTTL: ttl,
		http:      client,
		limiter:   rate.NewLimiter(limit, burst),
	}, nil
}

// GenerateCharge issues a PIX charge for amount.
func (c *PSPClient) GenerateCharge(ctx context.Context, amount decimal.Decimal, payer Payer, description string) (*Charge, error) {
	req := pixChargeRequest{
		Amount:           amount.StringFixed(2),
		Currency:         c.currency,
		PixKey:           c.pixKey,
		Payer:            toPSPPayer(payer),
		Description:      description,
		ExternalID:       payer.ID,
		ExpiresInSeconds: int64(c.chargeTTL / time.Second),
	}
	var resp pixChargeResponse
	if err := c.do(ctx, http.MethodPost, "/v2/pix/charges", req, &resp); err != nil {
		return nil, scrubPayer(err, req.Payer)
	}
	if resp.TxID == "" || resp.CopyPaste == "" {
		return nil, fmt.Errorf("payments: pix charge response missing txid or code")
	}
	charge := &Charge{InstructionCode: resp.CopyPaste, ExternalReference: resp.TxID}
	if resp.ExpiresAt != "" {
		if ts, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			charge.ExpiresAt = &ts
		}
	}
	return charge, nil
}

// GenerateStatement issues a boleto payable until dueDate.
func (c *PSPClient) GenerateStatement(ctx context.Context, amount decimal.Decimal, payer Payer, dueDate time.Time, description string) (*Statement, error) {
	req := boletoRequest{
		Amount:      amount.StringFixed(2),
		Currency:    c.currency,
		Payer:       toPSPPayer(payer),
		DueDate:     dueDate.Format(time.DateOnly),
		Description: description,
		ExternalID:  payer.ID,
	}
	var resp boletoResponse
	if err := c.do(ctx, http.MethodPost, "/v2/boletos", req, &resp); err != nil {
		return nil, scrubPayer(err, req.Payer)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("payments: boleto response missing id")
	}
	statement := &Statement{
		Reference:     resp.ID,
		DocumentURL:   resp.PDFURL,
		DigitableLine: resp.DigitableLine,
		DueDate:       dueDate,
	}
	if resp.DueDate != "" {
		if parsed, err := time.Parse(time.DateOnly, resp.DueDate); err == nil {
			statement.DueDate = parsed
		}
	}
	return statement, nil
}

// ConfirmSettlement returns the amount the provider settled for reference.
func (c *PSPClient) ConfirmSettlement(ctx context.Context, reference string) (decimal.Decimal, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return decimal.Zero, fmt.Errorf("payments: settlement reference required")
	}
	var resp settlementResponse
	if err := c.do(ctx, http.MethodGet, "/v2/settlements/"+url.PathEscape(reference), nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.settled() {
		return decimal.Zero, fmt.Errorf("%w: %s status=%s", ErrNotSettled, reference, resp.Status)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(resp.SettledAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("payments: invalid settled amount %q: %w", resp.SettledAmount, err)
	}
	return amount, nil
}

func (c *PSPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if c == nil {
		return fmt.Errorf("payments: psp client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("payments: rate limit wait: %w", err)
	}
	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("payments: %s %s failed: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// scrubPayer masks payer details that a provider echoed back in an error body
// so they never reach logs or API responses.
func scrubPayer(err error, p pspPayer) error {
	var pairs []string
	for _, v := range []string{p.Document, p.Email, p.Name} {
		if v != "" {
			pairs = append(pairs, v, logging.MaskValue(v))
		}
	}
	if len(pairs) == 0 {
		return err
	}
	msg := err.Error()
	masked := strings.NewReplacer(pairs...).Replace(msg)
	if masked == msg {
		return err
	}
	return errors.New(masked)
}

func toPSPPayer(p Payer) pspPayer {
	return pspPayer{
		Name:     strings.TrimSpace(p.Name),
		Document: strings.TrimSpace(p.Document),
		Email:    strings.TrimSpace(p.Email),
	}
}
