// Package storefront holds the client side of checkout: card tokenization
// against the provider's public API, the service API client, the checkout
// orchestrator and the order status poller.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/service"
)

const binLength = 6

var (
	// ErrTokenizerUnavailable means no public key is configured. Card
	// checkout cannot proceed.
	ErrTokenizerUnavailable = errors.New("card tokenizer not configured")
	// ErrUnknownBIN means no payment method matches the card's first digits.
	ErrUnknownBIN = errors.New("card brand not recognised")
)

// ProviderRejection is a tokenization failure reported by the provider.
// Message is shown to the buyer as is.
type ProviderRejection struct {
	StatusCode int
	Message    string
}

func (e *ProviderRejection) Error() string {
	return e.Message
}

// Tokenizer turns raw card fields into a single-use token.
type Tokenizer interface {
	Tokenize(ctx context.Context, card *models.CardForm) (*models.CardToken, error)
}

// Brand is the result of a BIN lookup.
type Brand struct {
	PaymentMethodID string
	Name            string
	PaymentTypeID   string
	IssuerID        string
}

// CardTokenizer calls the provider's public card endpoints with the public
// key only. Raw card data goes to the provider and nowhere else.
type CardTokenizer struct {
	baseURL    string
	publicKey  string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ Tokenizer = (*CardTokenizer)(nil)

func NewCardTokenizer(baseURL, publicKey string, timeout time.Duration, logger *logging.Logger) *CardTokenizer {
	return &CardTokenizer{
		baseURL:    baseURL,
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type paymentMethodSearch struct {
	Results []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		PaymentTypeID string `json:"payment_type_id"`
		Issuer        struct {
			ID json.Number `json:"id"`
		} `json:"issuer"`
	} `json:"results"`
}

type cardTokenRequest struct {
	CardNumber      string     `json:"card_number"`
	ExpirationMonth int        `json:"expiration_month"`
	ExpirationYear  int        `json:"expiration_year"`
	SecurityCode    string     `json:"security_code"`
	Cardholder      cardholder `json:"cardholder"`
}

type cardholder struct {
	Name           string         `json:"name"`
	Identification identification `json:"identification"`
}

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type cardTokenResponse struct {
	ID string `json:"id"`
}

type providerErrorBody struct {
	Message string `json:"message"`
	Cause   []struct {
		Description string `json:"description"`
	} `json:"cause"`
}

// DetectBrand looks up the card brand from the first six digits. It is
// meant for form feedback while the number is typed.
func (t *CardTokenizer) DetectBrand(ctx context.Context, cardNumber string) (*Brand, error) {
	if t.publicKey == "" {
		return nil, ErrTokenizerUnavailable
	}
	digits := service.DigitsOnly(cardNumber)
	if len(digits) < binLength {
		return nil, fmt.Errorf("need at least %d digits to detect the brand", binLength)
	}

	q := url.Values{}
	q.Set("bins", digits[:binLength])
	q.Set("public_key", t.publicKey)

	var search paymentMethodSearch
	if err := t.do(ctx, http.MethodGet, "/v1/payment_methods/search?"+q.Encode(), nil, &search); err != nil {
		return nil, err
	}
	if len(search.Results) == 0 {
		return nil, ErrUnknownBIN
	}

	r := search.Results[0]
	return &Brand{
		PaymentMethodID: r.ID,
		Name:            r.Name,
		PaymentTypeID:   r.PaymentTypeID,
		IssuerID:        r.Issuer.ID.String(),
	}, nil
}

// Tokenize validates card, mints a token and resolves the payment method
// for its BIN.
func (t *CardTokenizer) Tokenize(ctx context.Context, card *models.CardForm) (*models.CardToken, error) {
	if t.publicKey == "" {
		return nil, ErrTokenizerUnavailable
	}

	form, err := service.ValidateCardForm(card)
	if err != nil {
		return nil, err
	}
	month, _ := strconv.Atoi(form.ExpirationMonth)
	year, _ := strconv.Atoi(form.ExpirationYear)

	body, err := json.Marshal(cardTokenRequest{
		CardNumber:      form.Number,
		ExpirationMonth: month,
		ExpirationYear:  year,
		SecurityCode:    form.SecurityCode,
		Cardholder: cardholder{
			Name: form.HolderName,
			Identification: identification{
				Type:   form.IdentificationType,
				Number: form.IdentificationNumber,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("public_key", t.publicKey)

	var token cardTokenResponse
	if err := t.do(ctx, http.MethodPost, "/v1/card_tokens?"+q.Encode(), body, &token); err != nil {
		return nil, err
	}
	if token.ID == "" {
		return nil, &ProviderRejection{Message: "Erro ao gerar token do cartão"}
	}

	brand, err := t.DetectBrand(ctx, form.Number)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Card tokenized", logging.Fields{
		"payment_method_id": brand.PaymentMethodID,
		"issuer_id":         brand.IssuerID,
	})

	return &models.CardToken{
		Token:                token.ID,
		PaymentMethodID:      brand.PaymentMethodID,
		IssuerID:             brand.IssuerID,
		IdentificationType:   form.IdentificationType,
		IdentificationNumber: form.IdentificationNumber,
	}, nil
}

func (t *CardTokenizer) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("card provider request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejectionFrom(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode card provider response: %w", err)
	}
	return nil
}

func rejectionFrom(status int, data []byte) *ProviderRejection {
	var body providerErrorBody
	_ = json.Unmarshal(data, &body)

	msg := body.Message
	if len(body.Cause) > 0 && body.Cause[0].Description != "" {
		msg = body.Cause[0].Description
	}
	if msg == "" {
		msg = "Erro ao gerar token do cartão"
	}
	return &ProviderRejection{StatusCode: status, Message: msg}
}
