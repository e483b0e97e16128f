package service

import (
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/shopspring/decimal"
)

// MinimumCardAmount is the smallest total the provider accepts for cards.
var MinimumCardAmount = decimal.NewFromInt(1)

// CalculateOrderTotal sums the item snapshot exactly. Item prices are
// validated to whole centavos, so the sum needs no rounding. Client-supplied
// totals are never used.
func CalculateOrderTotal(items []models.OrderItem) decimal.Decimal {
	return models.SumItems(items)
}

// BelowCardMinimum reports whether total cannot be charged to a card.
func BelowCardMinimum(total decimal.Decimal) bool {
	return total.LessThan(MinimumCardAmount)
}
