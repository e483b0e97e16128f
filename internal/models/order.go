package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment  OrderStatus = "pending_payment"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusInTransit       OrderStatus = "in_transit"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusWhatsAppPending OrderStatus = "whatsapp_pending"
)

func (s OrderStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the payment of an order in this status is
// settled. Only a reconciled payment or staff can move it on from here.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusNew, OrderStatusCancelled, OrderStatusInTransit, OrderStatusDelivered:
		return true
	}
	return false
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodCash       PaymentMethod = "cash"
)

// ParsePaymentMethod normalises form input. "dinheiro" is the storefront's
// label for cash. Unknown values return false.
func ParsePaymentMethod(v string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pix":
		return PaymentMethodPix, true
	case "debit_card":
		return PaymentMethodDebitCard, true
	case "credit_card":
		return PaymentMethodCreditCard, true
	case "cash", "dinheiro":
		return PaymentMethodCash, true
	}
	return "", false
}

// IsOnline reports whether the method is paid through the provider.
func (m PaymentMethod) IsOnline() bool {
	return m == PaymentMethodPix || m == PaymentMethodDebitCard || m == PaymentMethodCreditCard
}

// IsCard reports whether the method needs a card token.
func (m PaymentMethod) IsCard() bool {
	return m == PaymentMethodDebitCard || m == PaymentMethodCreditCard
}

// InitialStatus is the status an order is created with for this method.
func (m PaymentMethod) InitialStatus() OrderStatus {
	if m.IsOnline() {
		return OrderStatusPendingPayment
	}
	return OrderStatusNew
}

// Label is the human name sent to the task tracker.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentMethodPix:
		return "PIX"
	case PaymentMethodDebitCard:
		return "Cartão de Débito"
	case PaymentMethodCreditCard:
		return "Cartão de Crédito"
	case PaymentMethodCash:
		return "Dinheiro"
	}
	return "PIX"
}

// OrderItem is a line item snapshot taken at checkout. It never references
// the live catalog price.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Note      string          `json:"note,omitempty"`
}

// Subtotal returns unit price times quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is one customer purchase.
type Order struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	CustomerName         string          `json:"customer_name"`
	Phone                string          `json:"phone"`
	DeliveryAddress      string          `json:"delivery_address"`
	DeliveryNeighborhood string          `json:"delivery_neighborhood"`
	DeliveryCity         string          `json:"delivery_city"`
	Items                []OrderItem     `json:"items"`
	Total                decimal.Decimal `json:"total"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	Status               OrderStatus     `json:"status"`
	PaymentID            *string         `json:"payment_id,omitempty"`
	PixQRCode            *string         `json:"pix_qr_code,omitempty"`
	PixQRCodeBase64      *string         `json:"pix_qr_code_base64,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	WhatsAppMessageID    *string         `json:"whatsapp_message_id,omitempty"`
	NotifiedAt           *time.Time      `json:"notified_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// CalculateTotal sums the item snapshot into Total.
func (o *Order) CalculateTotal() {
	o.Total = SumItems(o.Items)
}

// SumItems returns the sum of unit price times quantity over items.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status *OrderStatus
	Limit  int
	Offset int
}

// MaskedOrder is the projection shown to staff without admin rights.
type MaskedOrder struct {
	ID                   string          `json:"id" db:"id"`
	CustomerName         string          `json:"customer_name" db:"customer_name"`
	Phone                string          `json:"phone" db:"phone"`
	DeliveryAddress      string          `json:"delivery_address" db:"delivery_address"`
	DeliveryNeighborhood string          `json:"delivery_neighborhood" db:"delivery_neighborhood"`
	DeliveryCity         string          `json:"delivery_city" db:"delivery_city"`
	Items                []OrderItem     `json:"items" db:"-"`
	ItemsJSON            []byte          `json:"-" db:"items"`
	Total                decimal.Decimal `json:"total" db:"total"`
	Status               OrderStatus     `json:"status" db:"status"`
	Notes                string          `json:"notes" db:"notes"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// MaskPhone keeps only the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// FirstName returns the first word of a full name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
