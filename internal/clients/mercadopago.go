package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
)

// Provider payment statuses.
const (
	PaymentStatusApproved    = "approved"
	PaymentStatusPending     = "pending"
	PaymentStatusInProcess   = "in_process"
	PaymentStatusAuthorized  = "authorized"
	PaymentStatusRejected    = "rejected"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusRefunded    = "refunded"
	PaymentStatusChargedBack = "charged_back"
)

// Payer identifies who pays.
type Payer struct {
	Email          string          `json:"email,omitempty"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

// Identification is the payer's tax id.
type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// PaymentRequest is the body of POST /v1/payments.
type PaymentRequest struct {
	TransactionAmount   float64 `json:"transaction_amount"`
	Description         string  `json:"description"`
	PaymentMethodID     string  `json:"payment_method_id"`
	Token               string  `json:"token,omitempty"`
	Installments        int     `json:"installments,omitempty"`
	IssuerID            string  `json:"issuer_id,omitempty"`
	Payer               Payer   `json:"payer"`
	NotificationURL     string  `json:"notification_url,omitempty"`
	ExternalReference   string  `json:"external_reference"`
	StatementDescriptor string  `json:"statement_descriptor,omitempty"`
}

// TransactionData carries the PIX QR payloads.
type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// PointOfInteraction wraps TransactionData in provider responses.
type PointOfInteraction struct {
	TransactionData TransactionData `json:"transaction_data"`
}

// Payment is the provider's view of a payment.
type Payment struct {
	ID                 int64              `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	ExternalReference  string             `json:"external_reference"`
	TransactionAmount  float64            `json:"transaction_amount"`
	PaymentMethodID    string             `json:"payment_method_id"`
	PointOfInteraction PointOfInteraction `json:"point_of_interaction"`
}

// IDString returns the payment id in decimal form.
func (p *Payment) IDString() string {
	return strconv.FormatInt(p.ID, 10)
}

// ProviderError is a non-2xx answer from the provider. Body is kept for
// logs only.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider returned status %d", e.StatusCode)
}

// MercadoPagoClient calls the Mercado Pago payments API.
type MercadoPagoClient struct {
	baseURL     string
	accessToken string
	maxRetries  int
	backoff     time.Duration
	httpClient  *http.Client
	logger      *logging.Logger
}

// NewMercadoPagoClient creates a client from cfg.
func NewMercadoPagoClient(cfg config.MercadoPagoConfig, logger *logging.Logger) *MercadoPagoClient {
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	return &MercadoPagoClient{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		maxRetries:  retries,
		backoff:     100 * time.Millisecond,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// CreatePayment submits a PIX or card charge. The idempotency key makes
// retries of the same attempt safe.
func (c *MercadoPagoClient) CreatePayment(ctx context.Context, req *PaymentRequest, idempotencyKey string) (*Payment, error) {
	if c.accessToken == "" {
		return nil, fmt.Errorf("mercado pago access token not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Creating payment", logging.Fields{
		"order_id":          req.ExternalReference,
		"payment_method_id": req.PaymentMethodID,
		"amount":            req.TransactionAmount,
	})

	var payment Payment
	err = c.doWithRetry(ctx, http.MethodPost, "/v1/payments", body, idempotencyKey, &payment)
	if err != nil {
		c.logger.Error("Payment request failed", logging.Fields{
			"order_id": req.ExternalReference,
			"error":    err.Error(),
		})
		return nil, err
	}

	c.logger.Info("Payment created", logging.Fields{
		"order_id":      req.ExternalReference,
		"payment_id":    payment.ID,
		"status":        payment.Status,
		"status_detail": payment.StatusDetail,
	})
	return &payment, nil
}

// GetPayment fetches the authoritative state of a payment.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c.accessToken == "" {
		return nil, fmt.Errorf("mercado pago access token not configured")
	}

	var payment Payment
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "", &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *MercadoPagoClient) doWithRetry(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying payment provider request", logging.Fields{
				"path":    path,
				"attempt": attempt + 1,
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		retry, err := c.do(ctx, method, path, body, idempotencyKey, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("payment provider failed after %d attempts: %w", c.maxRetries, lastErr)
}

// do performs one request. The bool reports whether the failure is worth
// retrying.
func (c *MercadoPagoClient) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	c.setHeaders(ctx, req, idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("payment provider %s: %w", path, apperrors.ErrNotFound)
	case resp.StatusCode >= 500:
		return true, &ProviderError{StatusCode: resp.StatusCode, Body: string(data)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &ProviderError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode provider response: %w", err)
	}
	return false, nil
}

func (c *MercadoPagoClient) setHeaders(ctx context.Context, req *http.Request, idempotencyKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}
}
