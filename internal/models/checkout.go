package models

import "github.com/shopspring/decimal"

// CheckoutRequest is the raw checkout form plus the cart snapshot.
type CheckoutRequest struct {
	Name          string      `json:"name"`
	Phone         string      `json:"phone"`
	Address       string      `json:"address"`
	Neighborhood  string      `json:"neighborhood"`
	City          string      `json:"city"`
	PaymentMethod string      `json:"payment_method"`
	Notes         string      `json:"notes,omitempty"`
	Items         []OrderItem `json:"items"`
	Card          *CardForm   `json:"-"`
}

// Checkout is a validated, normalised CheckoutRequest.
type Checkout struct {
	Name          string
	Phone         string
	Address       string
	Neighborhood  string
	City          string
	PaymentMethod PaymentMethod
	Notes         string
	Items         []OrderItem
	Card          *CardForm
}

// CardForm holds raw card fields. It stays on the client: the tokenizer
// turns it into a CardToken and only the token is sent to the service.
type CardForm struct {
	Number               string
	HolderName           string
	ExpirationMonth      string
	ExpirationYear       string
	SecurityCode         string
	IdentificationType   string
	IdentificationNumber string
}

// CardToken is the opaque result of tokenization.
type CardToken struct {
	Token                string `json:"card_token"`
	PaymentMethodID      string `json:"payment_method_id"`
	IssuerID             string `json:"issuer_id,omitempty"`
	IdentificationType   string `json:"identification_type"`
	IdentificationNumber string `json:"identification_number"`
}

// DispatchRequest asks the service to charge an order.
type DispatchRequest struct {
	OrderID       string        `json:"order_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PayerEmail    string        `json:"payer_email"`
	CardToken
}

// PaymentType distinguishes dispatch results.
type PaymentType string

const (
	PaymentTypePix  PaymentType = "pix"
	PaymentTypeCard PaymentType = "card"
)

// DispatchResult is returned to the storefront after a charge attempt.
type DispatchResult struct {
	PaymentType  PaymentType     `json:"payment_type"`
	OrderID      string          `json:"order_id"`
	PaymentID    string          `json:"payment_id"`
	Status       string          `json:"status,omitempty"`
	StatusDetail string          `json:"status_detail,omitempty"`
	Approved     bool            `json:"approved"`
	Message      string          `json:"message,omitempty"`
	OrderStatus  OrderStatus     `json:"order_status"`
	QRCode       string          `json:"qr_code,omitempty"`
	QRCodeBase64 string          `json:"qr_code_base64,omitempty"`
	TicketURL    string          `json:"ticket_url,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

// OrderStatusView is what the status poller reads.
type OrderStatusView struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}
