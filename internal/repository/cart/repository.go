package cart

import (
	"context"
	"encoding/json"
)

// Repository is the remote cart resource. Every method performs exactly one
// HTTP call; retries are layered on top by the caller.
type Repository interface {
	// List returns the raw cart payload, unchanged.
	List(ctx context.Context) (json.RawMessage, error)
	Add(ctx context.Context, productID int64, quantity int) error
	SetQuantity(ctx context.Context, lineID int64, quantity int) error
	Remove(ctx context.Context, lineID int64) error
	Clear(ctx context.Context) error
	// Checkout places an order. idempotencyKey must be reused when the same
	// order placement is re-issued.
	Checkout(ctx context.Context, idempotencyKey string) error
}

// Session supplies the bearer token and is told when the server rejects it.
type Session interface {
	CurrentToken() (string, bool)
	InvalidateSession()
}

type noSession struct{}

func (noSession) CurrentToken() (string, bool) { return "", false }

func (noSession) InvalidateSession() {}
