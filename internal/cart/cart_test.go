package cart

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dozen = Product{ID: "1", Name: "Ovos brancos (dúzia)", Price: decimal.RequireFromString("11.95")}
	tray  = Product{ID: "2", Name: "Bandeja 30 ovos", Price: decimal.RequireFromString("27.50")}
)

func TestCart_AddMergesQuantities(t *testing.T) {
	c := New()

	require.NoError(t, c.Add(dozen, 1))
	require.NoError(t, c.Add(tray, 1))
	require.NoError(t, c.Add(dozen, 1))

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].Product.ID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, "51.40", c.Total().StringFixed(2))
}

func TestCart_AddRejectsNonPositive(t *testing.T) {
	c := New()

	assert.ErrorIs(t, c.Add(dozen, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.Add(dozen, -2), ErrInvalidQuantity)
	assert.Zero(t, c.Count())
}

func TestCart_SetQuantityAndRemove(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(dozen, 1))
	require.NoError(t, c.Add(tray, 1))

	require.NoError(t, c.SetQuantity("2", 4))
	assert.Equal(t, 5, c.Count())

	require.NoError(t, c.SetQuantity("1", 0))
	assert.Len(t, c.Items(), 1)

	assert.ErrorIs(t, c.Remove("1"), ErrUnknownProduct)
	assert.ErrorIs(t, c.SetQuantity("9", 1), ErrUnknownProduct)
}

func TestCart_SnapshotIsDetached(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(dozen, 2))

	snap, err := c.Snapshot()
	require.NoError(t, err)

	// later catalog change does not reach the snapshot
	require.NoError(t, c.Add(Product{ID: "1", Name: dozen.Name, Price: decimal.RequireFromString("13.00")}, 1))

	require.Len(t, snap, 1)
	assert.Equal(t, "11.95", snap[0].UnitPrice.StringFixed(2))
	assert.Equal(t, 2, snap[0].Quantity)

	c.Clear()
	_, err = c.Snapshot()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCart_ConcurrentAdds(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Add(dozen, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.Count())
}
