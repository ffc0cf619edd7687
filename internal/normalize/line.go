package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"fitcart/internal/domain"
	"github.com/shopspring/decimal"
)

// Source tells where a line keeps its product display fields.
type Source int

const (
	SourceFlat         Source = iota // fields on the line itself
	SourceProductUpper               // nested under "Product"
	SourceProductLower               // nested under "product"
)

// Line is one raw cart line tagged with its product source.
type Line struct {
	Source  Source
	Fields  map[string]any
	Product map[string]any
}

// ClassifyLine tags raw. It returns false only for null lines.
func ClassifyLine(raw any) (Line, bool) {
	if raw == nil {
		return Line{}, false
	}
	fields, _ := raw.(map[string]any)
	line := Line{Source: SourceFlat, Fields: fields}
	if p, ok := fields["Product"].(map[string]any); ok {
		line.Source = SourceProductUpper
		line.Product = p
	} else if p, ok := fields["product"].(map[string]any); ok {
		line.Source = SourceProductLower
		line.Product = p
	}
	return line, true
}

// Item maps the line onto a fully defaulted CartItem.
func (l Line) Item() domain.CartItem {
	item := domain.CartItem{
		Name:     domain.DefaultName,
		Photo:    domain.DefaultPhoto,
		Price:    decimal.Zero,
		Quantity: domain.DefaultQuantity,
	}

	if id, ok := toInt(l.Fields["id"]); ok {
		item.ID = id
	}
	if qty, ok := toInt(l.Fields["quantity"]); ok && qty >= 1 && qty <= math.MaxInt32 {
		item.Quantity = int(qty)
	}

	display := l.Fields
	if l.Source != SourceFlat {
		display = l.Product
	}
	if price, ok := toDecimal(display["price"]); ok && price.IsPositive() {
		item.Price = price
	}
	if v := toString(display["name"]); v != "" {
		item.Name = v
	}
	if v := toString(display["photo"]); v != "" {
		item.Photo = v
	}
	if v := toString(display["description"]); v != "" {
		item.Description = v
	}

	item.ProductID = l.productID()
	return item
}

func (l Line) productID() int64 {
	if l.Product != nil {
		if id, ok := toInt(l.Product["id"]); ok {
			return id
		}
	}
	for _, key := range []string{"productId", "ProductId", "product_id"} {
		if id, ok := toInt(l.Fields[key]); ok {
			return id
		}
	}
	return 0
}

func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		return floatToInt(v.String())
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		return floatToInt(s)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func floatToInt(s string) (int64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(f), true
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	}
	return decimal.Zero, false
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}
