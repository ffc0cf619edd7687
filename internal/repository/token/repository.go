package token

import (
	"context"
	"time"
)

// Token is the persisted session credential for one client profile.
type Token struct {
	Profile   string
	Token     string
	CreatedAt time.Time
}

type Repository interface {
	// Save stores the profile's token, replacing any previous one.
	Save(ctx context.Context, token Token) error
	Get(ctx context.Context, profile string) (*Token, error)
	Delete(ctx context.Context, profile string) error
}
