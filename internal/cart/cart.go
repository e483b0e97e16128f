// Package cart is the in-memory shopping cart of a storefront session.
package cart

import (
	"errors"
	"sync"

	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("cart: quantity must be positive")
	ErrUnknownProduct  = errors.New("cart: product not in cart")
	ErrEmpty           = errors.New("cart: no items")
)

// Product is the catalog entry a cart line points at.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Item is one cart line.
type Item struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Subtotal returns price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart holds selected products. The zero value is not usable; call New.
type Cart struct {
	mu    sync.RWMutex
	order []string
	items map[string]*Item
}

func New() *Cart {
	return &Cart{items: make(map[string]*Item)}
}

// Add puts qty units of p in the cart, merging with an existing line.
// The price of an existing line is refreshed to p.Price.
func (c *Cart) Add(p Product, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[p.ID]; ok {
		it.Quantity += qty
		it.Product = p
		return nil
	}
	c.items[p.ID] = &Item{Product: p, Quantity: qty}
	c.order = append(c.order, p.ID)
	return nil
}

// SetQuantity replaces the quantity of a line. Zero removes it.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if qty == 0 {
		return c.Remove(productID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[productID]
	if !ok {
		return ErrUnknownProduct
	}
	it.Quantity = qty
	return nil
}

// Remove drops a line.
func (c *Cart) Remove(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[productID]; !ok {
		return ErrUnknownProduct
	}
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*Item)
	c.order = nil
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.items[id])
	}
	return out
}

// Count returns the total number of units.
func (c *Cart) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

// Total returns the sum of line subtotals.
func (c *Cart) Total() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Snapshot freezes the cart into order line items.
func (c *Cart) Snapshot() ([]models.OrderItem, error) {
	items := c.Items()
	if len(items) == 0 {
		return nil, ErrEmpty
	}

	out := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, models.OrderItem{
			ProductID: it.Product.ID,
			Name:      it.Product.Name,
			UnitPrice: it.Product.Price,
			Quantity:  it.Quantity,
		})
	}
	return out, nil
}
