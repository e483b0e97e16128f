package storefront

import (
	"context"
	"errors"
	"testing"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/cart"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	created    []*models.CheckoutRequest
	dispatched []*models.DispatchRequest
	createErr  error
	result     *models.DispatchResult
	dispErr    error
}

func (f *fakeAPI) CreateOrder(_ context.Context, req *models.CheckoutRequest) (*models.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	method, _ := models.ParsePaymentMethod(req.PaymentMethod)
	return &models.Order{ID: "o-1", PaymentMethod: method, Status: method.InitialStatus()}, nil
}

func (f *fakeAPI) Dispatch(_ context.Context, req *models.DispatchRequest) (*models.DispatchResult, error) {
	f.dispatched = append(f.dispatched, req)
	if f.dispErr != nil {
		return nil, f.dispErr
	}
	return f.result, nil
}

type fakeTokenizer struct {
	calls int
	err   error
}

func (f *fakeTokenizer) Tokenize(_ context.Context, card *models.CardForm) (*models.CardToken, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.CardToken{
		Token:                "tok-1",
		PaymentMethodID:      "visa",
		IdentificationType:   "CPF",
		IdentificationNumber: "12345678909",
	}, nil
}

func filledCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.Add(cart.Product{ID: "1", Name: "Dúzia de ovos", Price: decimal.RequireFromString("11.95")}, 2))
	return c
}

func checkoutForm(method string) *models.CheckoutRequest {
	return &models.CheckoutRequest{
		Name:          "Maria Souza",
		Phone:         "(24) 99999-0000",
		Address:       "Rua do Imperador, 100",
		Neighborhood:  "Centro",
		City:          "Petrópolis",
		PaymentMethod: method,
	}
}

func TestCheckout_Cash(t *testing.T) {
	c := filledCart(t)
	api := &fakeAPI{}
	co := NewCheckout(c, api, nil, logging.Nop())

	out, err := co.Submit(context.Background(), checkoutForm("dinheiro"), "")
	require.NoError(t, err)

	assert.True(t, out.Completed())
	assert.Equal(t, models.OrderStatusNew, out.Order.Status)
	assert.Empty(t, api.dispatched)
	assert.Zero(t, c.Count())
	require.Len(t, api.created, 1)
	require.Len(t, api.created[0].Items, 1)
	assert.Equal(t, 2, api.created[0].Items[0].Quantity)
}

func TestCheckout_Pix(t *testing.T) {
	c := filledCart(t)
	api := &fakeAPI{result: &models.DispatchResult{PaymentType: models.PaymentTypePix, PaymentID: "1001", QRCode: "000201"}}
	co := NewCheckout(c, api, nil, logging.Nop())

	out, err := co.Submit(context.Background(), checkoutForm("pix"), "maria@example.com")
	require.NoError(t, err)

	assert.Equal(t, "000201", out.Payment.QRCode)
	require.Len(t, api.dispatched, 1)
	assert.Equal(t, models.PaymentMethodPix, api.dispatched[0].PaymentMethod)
	assert.Empty(t, api.dispatched[0].Token)
	assert.Zero(t, c.Count())
}

func TestCheckout_CardApproved(t *testing.T) {
	c := filledCart(t)
	api := &fakeAPI{result: &models.DispatchResult{PaymentType: models.PaymentTypeCard, Approved: true}}
	tok := &fakeTokenizer{}
	co := NewCheckout(c, api, tok, logging.Nop())

	form := checkoutForm("credit_card")
	form.Card = validCard()
	out, err := co.Submit(context.Background(), form, "")
	require.NoError(t, err)

	assert.True(t, out.Completed())
	assert.Equal(t, 1, tok.calls)
	require.Len(t, api.dispatched, 1)
	assert.Equal(t, "tok-1", api.dispatched[0].Token)
	assert.Equal(t, "visa", api.dispatched[0].PaymentMethodID)
	assert.Zero(t, c.Count())
}

func TestCheckout_CardRejectedKeepsCart(t *testing.T) {
	c := filledCart(t)
	api := &fakeAPI{result: &models.DispatchResult{PaymentType: models.PaymentTypeCard, Approved: false, Message: "Saldo insuficiente"}}
	co := NewCheckout(c, api, &fakeTokenizer{}, logging.Nop())

	form := checkoutForm("debit_card")
	form.Card = validCard()
	out, err := co.Submit(context.Background(), form, "")
	require.NoError(t, err)

	assert.False(t, out.Completed())
	assert.Equal(t, 2, c.Count())

	api.result = &models.DispatchResult{PaymentType: models.PaymentTypeCard, Approved: true}
	res, err := co.RetryCard(context.Background(), out.Order.ID, models.PaymentMethodDebitCard, validCard(), "")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Zero(t, c.Count())
}

func TestCheckout_Failures(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		co := NewCheckout(cart.New(), &fakeAPI{}, nil, logging.Nop())
		_, err := co.Submit(context.Background(), checkoutForm("pix"), "")
		assert.ErrorIs(t, err, cart.ErrEmpty)
	})

	t.Run("invalid form creates nothing", func(t *testing.T) {
		api := &fakeAPI{}
		co := NewCheckout(filledCart(t), api, nil, logging.Nop())
		form := checkoutForm("pix")
		form.City = "Rio de Janeiro"

		_, err := co.Submit(context.Background(), form, "")

		verr, ok := apperrors.AsValidation(err)
		require.True(t, ok)
		assert.Equal(t, "Desculpe, no momento entregamos apenas em Petrópolis.", verr.First())
		assert.Empty(t, api.created)
	})

	t.Run("card without tokenizer", func(t *testing.T) {
		api := &fakeAPI{}
		co := NewCheckout(filledCart(t), api, nil, logging.Nop())
		form := checkoutForm("credit_card")
		form.Card = validCard()

		_, err := co.Submit(context.Background(), form, "")
		assert.ErrorIs(t, err, ErrTokenizerUnavailable)
		assert.Empty(t, api.created)
	})

	t.Run("card form missing", func(t *testing.T) {
		co := NewCheckout(filledCart(t), &fakeAPI{}, &fakeTokenizer{}, logging.Nop())
		_, err := co.Submit(context.Background(), checkoutForm("credit_card"), "")
		_, ok := apperrors.AsValidation(err)
		assert.True(t, ok)
	})

	t.Run("tokenizer rejection creates nothing", func(t *testing.T) {
		api := &fakeAPI{}
		co := NewCheckout(filledCart(t), api, &fakeTokenizer{err: &ProviderRejection{Message: "invalid card number"}}, logging.Nop())
		form := checkoutForm("credit_card")
		form.Card = validCard()

		_, err := co.Submit(context.Background(), form, "")
		assert.EqualError(t, err, "invalid card number")
		assert.Empty(t, api.created)
	})

	t.Run("create failure keeps cart", func(t *testing.T) {
		c := filledCart(t)
		co := NewCheckout(c, &fakeAPI{createErr: &APIError{StatusCode: 500, Message: "x"}}, nil, logging.Nop())

		out, err := co.Submit(context.Background(), checkoutForm("pix"), "")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.True(t, apiErr.Retryable())
		assert.Nil(t, out)
		assert.Equal(t, 2, c.Count())
	})

	t.Run("dispatch failure returns the order", func(t *testing.T) {
		c := filledCart(t)
		api := &fakeAPI{dispErr: &APIError{StatusCode: 422, Code: "MINIMUM_AMOUNT_ERROR", Message: "min"}}
		co := NewCheckout(c, api, nil, logging.Nop())

		out, err := co.Submit(context.Background(), checkoutForm("pix"), "")
		require.Error(t, err)
		require.NotNil(t, out)
		assert.Equal(t, "o-1", out.Order.ID)
		assert.False(t, out.Completed())
		assert.Equal(t, 2, c.Count())
	})
}
