// Package payment implements the PaymentGateway adapter: it translates
// between this service's domain model and NOWPayments' wire format, and
// performs no business decisions of its own — every judgment call
// (tolerance, crediting, retries) belongs to the finalize package.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/signature"
)

// EventKind normalizes NOWPayments' payment_status values.
type EventKind string

const (
	EventWaiting       EventKind = "waiting"
	EventConfirming    EventKind = "confirming"
	EventFinished      EventKind = "finished"
	EventConfirmed     EventKind = "confirmed"
	EventPartiallyPaid EventKind = "partially_paid"
	EventExpired       EventKind = "expired"
	EventFailed        EventKind = "failed"
	EventRefunded      EventKind = "refunded"
)

// Event is the normalized inbound IPN, independent of NOWPayments' wire
// field names.
type Event struct {
	PaymentID       string
	ParentPaymentID string
	Kind            EventKind
	PayCurrency     string
	ActuallyPaid    decimal.Decimal
	OutcomeAmount   decimal.Decimal
	OutcomeCurrency string
}

// IsChildSplit reports whether this event describes a child of a split
// payment rather than the parent order itself — the finalizer's contract
// says only the parent drives a business decision.
func (e Event) IsChildSplit() bool {
	return e.ParentPaymentID != "" && e.ParentPaymentID != e.PaymentID
}

// CreatePaymentResult is what CreatePayment returns on success.
type CreatePaymentResult struct {
	PayAddress        string
	PayAmountCrypto   decimal.Decimal
	ExpiresAt         time.Time
}

// Gateway is the NOWPayments adapter.
type Gateway struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	ipnSecret  string
}

// New constructs a Gateway. apiURL is typically
// "https://api.nowpayments.io"; ipnSecret may be empty, which disables IPN
// signature verification (spec: verification is mandatory only "when an
// IPN secret is configured").
func New(apiURL, apiKey, ipnSecret string) *Gateway {
	return &Gateway{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		ipnSecret:  ipnSecret,
	}
}

type createPaymentRequest struct {
	PriceAmount     string `json:"price_amount"`
	PriceCurrency   string `json:"price_currency"`
	PayCurrency     string `json:"pay_currency"`
	OrderID         string `json:"order_id"`
	IPNCallbackURL  string `json:"ipn_callback_url"`
}

type createPaymentResponse struct {
	PaymentID       string `json:"payment_id"`
	PayAddress      string `json:"pay_address"`
	PayAmount       decimal.Decimal `json:"pay_amount"`
	PayCurrency     string `json:"pay_currency"`
	ExpirationEstimateDate string `json:"expiration_estimate_date"`
}

type minAmountResponse struct {
	MinAmount decimal.Decimal `json:"min_amount"`
}

// CreatePayment creates a new NOWPayments payment for amountEUR, to be paid
// in currency. orderID becomes the future payment_id for reconciliation
// (NOWPayments returns its own payment_id; the caller is expected to key
// PendingDeposit by whichever ID NOWPayments actually assigns — see the
// PaymentID field on the returned result's sibling lookup in the caller).
// Returns errors.ErrMinAmountExceeded if amountEUR would fall under the
// gateway's configured minimum for currency.
func (g *Gateway) CreatePayment(ctx context.Context, amountEUR decimal.Decimal, currency, orderID, ipnURL string) (string, *CreatePaymentResult, error) {
	minAmount, err := g.minAmount(ctx, currency)
	if err == nil && amountEUR.LessThan(minAmount) {
		return "", nil, errors.ErrMinAmountExceeded.WithDetails(map[string]string{
			"min_amount": minAmount.String(),
			"currency":   currency,
		})
	}

	reqBody := createPaymentRequest{
		PriceAmount:    amountEUR.StringFixed(2),
		PriceCurrency:  "eur",
		PayCurrency:    currency,
		OrderID:        orderID,
		IPNCallbackURL: ipnURL,
	}

	var resp createPaymentResponse
	if err := g.doJSON(ctx, http.MethodPost, "/v1/payment", reqBody, &resp); err != nil {
		return "", nil, err
	}

	var expiresAt time.Time
	if resp.ExpirationEstimateDate != "" {
		expiresAt, _ = time.Parse(time.RFC3339, resp.ExpirationEstimateDate)
	}

	return resp.PaymentID, &CreatePaymentResult{
		PayAddress:      resp.PayAddress,
		PayAmountCrypto: resp.PayAmount,
		ExpiresAt:       expiresAt,
	}, nil
}

func (g *Gateway) minAmount(ctx context.Context, currency string) (decimal.Decimal, error) {
	var resp minAmountResponse
	endpoint := fmt.Sprintf("/v1/min-amount?currency_from=%s", currency)
	if err := g.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.MinAmount, nil
}

func (g *Gateway) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errors.ErrExternalService.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.ErrExternalService.WithMessage(fmt.Sprintf("nowpayments %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type ipnPayload struct {
	PaymentID       string          `json:"payment_id"`
	ParentPaymentID string          `json:"parent_payment_id"`
	PaymentStatus   string          `json:"payment_status"`
	PayCurrency     string          `json:"pay_currency"`
	ActuallyPaid    decimal.Decimal `json:"actually_paid"`
	OutcomeAmount   decimal.Decimal `json:"outcome_amount"`
	OutcomeCurrency string          `json:"outcome_currency"`
}

// ParseIPN verifies the signature headers carry and decodes body into a
// normalized Event. headerSig is the value of the x-nowpayments-sig
// header (case-insensitive per NOWPayments' convention, so callers should
// extract it case-insensitively before calling this).
func (g *Gateway) ParseIPN(body []byte, headerSig string) (*Event, error) {
	ok, err := signature.VerifyNOWPaymentsIPN(g.ipnSecret, body, headerSig)
	if err != nil {
		return nil, errors.ErrMalformedWebhook.WithCause(err)
	}
	if !ok {
		return nil, errors.ErrInvalidSignature
	}

	var payload ipnPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.ErrMalformedWebhook.WithCause(err)
	}

	kind, err := normalizeEventKind(payload.PaymentStatus)
	if err != nil {
		return nil, err
	}

	return &Event{
		PaymentID:       payload.PaymentID,
		ParentPaymentID: payload.ParentPaymentID,
		Kind:            kind,
		PayCurrency:     strings.ToLower(payload.PayCurrency),
		ActuallyPaid:    payload.ActuallyPaid,
		OutcomeAmount:   payload.OutcomeAmount,
		OutcomeCurrency: strings.ToLower(payload.OutcomeCurrency),
	}, nil
}

func normalizeEventKind(status string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "waiting":
		return EventWaiting, nil
	case "confirming":
		return EventConfirming, nil
	case "finished":
		return EventFinished, nil
	case "confirmed":
		return EventConfirmed, nil
	case "partially_paid":
		return EventPartiallyPaid, nil
	case "expired":
		return EventExpired, nil
	case "failed":
		return EventFailed, nil
	case "refunded":
		return EventRefunded, nil
	default:
		return "", errors.ErrUnsupportedEvent.WithMessage("unrecognized nowpayments status: " + status)
	}
}
