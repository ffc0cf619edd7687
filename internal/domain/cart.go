package domain

import "github.com/shopspring/decimal"

// Defaults applied to cart lines whose upstream fields are missing.
const (
	DefaultName     = "Product Not Found"
	DefaultPhoto    = "/placeholder.png"
	DefaultQuantity = 1
)

// CartItem is the canonical, fully defaulted representation of one cart line.
type CartItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"productId"`
	Name        string          `json:"name"`
	Photo       string          `json:"photo"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// LineTotal is Price times Quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartState is a snapshot of the cart store.
type CartState struct {
	Items   []CartItem      `json:"items"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
	Version uint64          `json:"version"`
}

// Empty reports whether the cart holds no lines.
func (s CartState) Empty() bool {
	return len(s.Items) == 0
}

// Clone returns a copy that shares no backing array with s.
func (s CartState) Clone() CartState {
	out := s
	if s.Items != nil {
		out.Items = make([]CartItem, len(s.Items))
		copy(out.Items, s.Items)
	}
	return out
}

// WithItems returns s with its items replaced and the aggregates recomputed.
func (s CartState) WithItems(items []CartItem) CartState {
	s.Items = items
	s.Count = 0
	s.Total = decimal.Zero
	for _, item := range items {
		s.Count += item.Quantity
		s.Total = s.Total.Add(item.LineTotal())
	}
	return s
}
