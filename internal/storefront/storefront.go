// Package storefront holds the customer-facing catalog views: filtering,
// sorting, and cart quoting.
package storefront

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fairyhunter13/storefront-console/internal/model"
)

// Sort orders accepted by FilterProducts.
const (
	SortName      = "name"
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
)

// TaxRate applies to the discounted-and-shipped subtotal.
const TaxRate = 0.08

// Filter narrows and orders a product listing. Zero values mean "no
// restriction" and the default name ordering.
type Filter struct {
	Category string
	Query    string
	Sort     string
}

// FilterProducts returns the products matching f, ordered by the requested
// sort. The input slice is never mutated.
func FilterProducts(products []model.Product, f Filter) []model.Product {
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if !matchCategory(p, f.Category) {
			continue
		}
		if !matchQuery(p, f.Query) {
			continue
		}
		out = append(out, p)
	}
	switch f.Sort {
	case SortPriceLow:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	case SortPriceHigh:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
	}
	return out
}

func matchCategory(p model.Product, category string) bool {
	if category == "" || strings.EqualFold(category, "all") {
		return true
	}
	return strings.EqualFold(p.Category, category)
}

func matchQuery(p model.Product, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q)
}

// Lookup resolves product IDs for quoting.
type Lookup interface {
	Get(id string) (model.Product, bool)
}

// Quote prices a cart: free shipping, then tax on the subtotal. Monetary
// values are rounded to cents.
func Quote(lookup Lookup, items []model.CartItem) (model.CartQuote, error) {
	var subtotal float64
	var count int
	for _, it := range items {
		if it.Quantity < 1 {
			return model.CartQuote{}, fmt.Errorf("invalid quantity %d for product %q", it.Quantity, it.ProductID)
		}
		p, ok := lookup.Get(it.ProductID)
		if !ok {
			return model.CartQuote{}, fmt.Errorf("unknown product %q", it.ProductID)
		}
		subtotal += p.Price * float64(it.Quantity)
		count += it.Quantity
	}
	subtotal = round2(subtotal)
	tax := round2(subtotal * TaxRate)
	return model.CartQuote{
		Items:    count,
		Subtotal: subtotal,
		Shipping: 0,
		Tax:      tax,
		Total:    round2(subtotal + tax),
	}, nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
