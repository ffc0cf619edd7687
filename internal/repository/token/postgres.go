package token

import (
	"context"
	"errors"

	"fitcart/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Save(ctx context.Context, token Token) error {
	const q = `
INSERT INTO sessions (profile, token)
VALUES ($1, $2)
ON CONFLICT (profile) DO UPDATE
SET token = EXCLUDED.token,
    created_at = now()
`
	_, err := r.pool.Exec(ctx, q, token.Profile, token.Token)
	return err
}

func (r *postgresRepo) Get(ctx context.Context, profile string) (*Token, error) {
	const q = `
SELECT profile, token, created_at
FROM sessions
WHERE profile = $1
LIMIT 1
`
	var out Token
	if err := r.pool.QueryRow(ctx, q, profile).Scan(
		&out.Profile,
		&out.Token,
		&out.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (r *postgresRepo) Delete(ctx context.Context, profile string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE profile = $1`, profile)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
