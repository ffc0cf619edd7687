package token

import (
	"context"
	"sync"
	"time"

	"fitcart/internal/domain"
)

type memoryRepo struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemory returns a process-local Repository, used when no database is configured.
func NewMemory() Repository {
	return &memoryRepo{tokens: make(map[string]Token)}
}

func (r *memoryRepo) Save(_ context.Context, token Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.CreatedAt = time.Now().UTC()
	r.tokens[token.Profile] = token
	return nil
}

func (r *memoryRepo) Get(_ context.Context, profile string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[profile]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *memoryRepo) Delete(_ context.Context, profile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[profile]; !ok {
		return domain.ErrNotFound
	}
	delete(r.tokens, profile)
	return nil
}
