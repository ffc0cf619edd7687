// Package normalize converts the cart payloads returned by the backend into
// canonical domain.CartItem values. Every function here is total: malformed
// input degrades to defaults or to an empty result, never to an error.
package normalize

import (
	"bytes"
	"encoding/json"

	"fitcart/internal/domain"
)

// Shape identifies how a collection response wraps its lines.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeArray         // [...]
	ShapeItems         // {"items": [...]}
	ShapeData          // {"data": [...]}
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeItems:
		return "items"
	case ShapeData:
		return "data"
	default:
		return "unknown"
	}
}

// Envelope is a collection response resolved to its bare line sequence.
type Envelope struct {
	Shape Shape
	Lines []any
}

// DecodeEnvelope parses a response body. Invalid JSON resolves to ShapeUnknown.
func DecodeEnvelope(body []byte) Envelope {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Envelope{Shape: ShapeUnknown}
	}
	return Resolve(raw)
}

// Resolve classifies an already decoded JSON value.
func Resolve(raw any) Envelope {
	switch v := raw.(type) {
	case []any:
		return Envelope{Shape: ShapeArray, Lines: v}
	case map[string]any:
		if lines, ok := v["items"].([]any); ok {
			return Envelope{Shape: ShapeItems, Lines: lines}
		}
		if lines, ok := v["data"].([]any); ok {
			return Envelope{Shape: ShapeData, Lines: lines}
		}
	}
	return Envelope{Shape: ShapeUnknown}
}

// Items normalizes every non-null line of env, preserving order.
func Items(env Envelope) []domain.CartItem {
	items := make([]domain.CartItem, 0, len(env.Lines))
	for _, raw := range env.Lines {
		line, ok := ClassifyLine(raw)
		if !ok {
			continue
		}
		items = append(items, line.Item())
	}
	return items
}

// Normalize decodes body and normalizes its lines.
func Normalize(body []byte) []domain.CartItem {
	return Items(DecodeEnvelope(body))
}
