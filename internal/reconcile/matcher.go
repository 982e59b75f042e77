package reconcile

import (
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

// Match is the set of financial facts a fuzzy match compares exactly.
type Match struct {
	Amount      float64
	Currency    string
	ProductName string
}

// SelectCandidate picks the order a processor-first event should adopt.
// Only orders without a processor order id whose amount, currency and product
// name equal m are eligible. The most recently created one wins; equal
// creation times fall back to the larger id so the choice is deterministic.
func SelectCandidate(candidates []orders.Order, m Match) (*orders.Order, bool) {
	var best *orders.Order
	for i := range candidates {
		c := &candidates[i]
		if !eligible(c, m) {
			continue
		}
		if best == nil || newer(c, best) {
			best = c
		}
	}
	return best, best != nil
}

func eligible(c *orders.Order, m Match) bool {
	return c.ProcessorOrderID == nil &&
		c.Amount == m.Amount &&
		c.Currency == m.Currency &&
		c.ProductName == m.ProductName
}

func newer(a, b *orders.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
