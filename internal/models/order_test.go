package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		in   string
		want PaymentMethod
		ok   bool
	}{
		{"pix", PaymentMethodPix, true},
		{" Credit_Card ", PaymentMethodCreditCard, true},
		{"debit_card", PaymentMethodDebitCard, true},
		{"dinheiro", PaymentMethodCash, true},
		{"cash", PaymentMethodCash, true},
		{"", "", false},
		{"boleto", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePaymentMethod(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaymentMethod_InitialStatus(t *testing.T) {
	assert.Equal(t, OrderStatusPendingPayment, PaymentMethodPix.InitialStatus())
	assert.Equal(t, OrderStatusPendingPayment, PaymentMethodDebitCard.InitialStatus())
	assert.Equal(t, OrderStatusPendingPayment, PaymentMethodCreditCard.InitialStatus())
	assert.Equal(t, OrderStatusNew, PaymentMethodCash.InitialStatus())
}

func TestSumItems(t *testing.T) {
	items := []OrderItem{
		{ProductID: "1", Name: "Dúzia", UnitPrice: decimal.RequireFromString("11.95"), Quantity: 2},
		{ProductID: "2", Name: "Bandeja", UnitPrice: decimal.RequireFromString("0.10"), Quantity: 3},
	}

	assert.Equal(t, "24.20", SumItems(items).StringFixed(2))
	assert.True(t, SumItems(nil).IsZero())
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*******4321", MaskPhone("24999994321"))
	assert.Equal(t, "***", MaskPhone("123"))
}

func TestCaller_CanRead(t *testing.T) {
	order := &Order{UserID: "u1"}

	assert.True(t, Caller{UserID: "u1"}.CanRead(order))
	assert.False(t, Caller{UserID: "u2", Roles: []Role{RoleCustomer}}.CanRead(order))
	assert.True(t, Caller{UserID: "u3", Roles: []Role{RoleLogistics}}.CanRead(order))
}
