package storefront

import (
	"context"
	"errors"
	"fmt"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/cart"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/service"
)

// OrderAPI is the part of the checkout service the orchestrator needs.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *models.CheckoutRequest) (*models.Order, error)
	Dispatch(ctx context.Context, req *models.DispatchRequest) (*models.DispatchResult, error)
}

var _ OrderAPI = (*APIClient)(nil)

// Outcome is the result of a checkout submission. Order is set as soon as
// the order exists, even when the payment step failed.
type Outcome struct {
	Order   *models.Order
	Payment *models.DispatchResult
}

// Completed reports whether the cart was consumed.
func (o *Outcome) Completed() bool {
	if o == nil || o.Order == nil {
		return false
	}
	if o.Order.PaymentMethod == models.PaymentMethodCash {
		return true
	}
	if o.Payment == nil {
		return false
	}
	return o.Payment.PaymentType == models.PaymentTypePix || o.Payment.Approved
}

// Checkout runs a storefront checkout: validate, tokenize, create the
// order, dispatch the payment and clear the cart.
type Checkout struct {
	cart      *cart.Cart
	api       OrderAPI
	tokenizer Tokenizer
	logger    *logging.Logger
}

// NewCheckout wires the orchestrator. tokenizer may be nil when card
// payments are not offered.
func NewCheckout(c *cart.Cart, api OrderAPI, tokenizer Tokenizer, logger *logging.Logger) *Checkout {
	return &Checkout{
		cart:      c,
		api:       api,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// Submit places the order described by form with the current cart.
// Raw card fields are tokenized locally and never sent to the service.
func (c *Checkout) Submit(ctx context.Context, form *models.CheckoutRequest, payerEmail string) (*Outcome, error) {
	items, err := c.cart.Snapshot()
	if err != nil {
		return nil, err
	}

	req := *form
	req.Items = items

	checkout, err := service.ValidateCheckout(&req)
	if err != nil {
		return nil, err
	}

	var token *models.CardToken
	if checkout.PaymentMethod.IsCard() {
		token, err = c.tokenize(ctx, checkout.Card)
		if err != nil {
			return nil, err
		}
	}

	order, err := c.api.CreateOrder(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	out := &Outcome{Order: order}

	c.logger.Info("Order placed", logging.Fields{
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_method": order.PaymentMethod,
	})

	if checkout.PaymentMethod == models.PaymentMethodCash {
		c.cart.Clear()
		return out, nil
	}

	out.Payment, err = c.pay(ctx, order.ID, checkout.PaymentMethod, token, payerEmail)
	if err != nil {
		return out, err
	}
	if out.Completed() {
		c.cart.Clear()
	}
	return out, nil
}

// RetryCard pays an existing pending order with a new card.
func (c *Checkout) RetryCard(ctx context.Context, orderID string, method models.PaymentMethod, card *models.CardForm, payerEmail string) (*models.DispatchResult, error) {
	if !method.IsCard() {
		return nil, fmt.Errorf("payment method %q is not a card", method)
	}
	token, err := c.tokenize(ctx, card)
	if err != nil {
		return nil, err
	}

	result, err := c.pay(ctx, orderID, method, token, payerEmail)
	if err != nil {
		return nil, err
	}
	if result.Approved {
		c.cart.Clear()
	}
	return result, nil
}

func (c *Checkout) tokenize(ctx context.Context, card *models.CardForm) (*models.CardToken, error) {
	if c.tokenizer == nil {
		return nil, ErrTokenizerUnavailable
	}
	if card == nil {
		return nil, apperrors.NewValidationError("card", "Preencha os dados do cartão")
	}
	return c.tokenizer.Tokenize(ctx, card)
}

func (c *Checkout) pay(ctx context.Context, orderID string, method models.PaymentMethod, token *models.CardToken, payerEmail string) (*models.DispatchResult, error) {
	req := &models.DispatchRequest{
		OrderID:       orderID,
		PaymentMethod: method,
		PayerEmail:    payerEmail,
	}
	if token != nil {
		req.CardToken = *token
	}

	result, err := c.api.Dispatch(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn("Payment dispatch rejected", logging.Fields{
				"order_id": orderID,
				"code":     apiErr.Code,
			})
		}
		return nil, fmt.Errorf("dispatch payment: %w", err)
	}

	c.logger.Info("Payment dispatched", logging.Fields{
		"order_id":   orderID,
		"payment_id": result.PaymentID,
		"approved":   result.Approved,
	})
	return result, nil
}
