package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/paysettle/internal/domain"
)

// Postgres is a Directory over the users table.
type Postgres struct {
	db *pgxpool.Pool
}

var _ Directory = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ResolveByEmail(ctx context.Context, email string) (domain.Identity, error) {
	var id domain.Identity
	err := p.db.QueryRow(ctx,
		"SELECT account_id, email, username FROM users WHERE lower(email) = $1",
		domain.NormalizeEmail(email)).Scan(&id.AccountID, &id.Email, &id.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, ErrNotFound
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity lookup failed: %w", err)
	}
	return id, nil
}

func (p *Postgres) Register(ctx context.Context, id domain.Identity) error {
	id, err := normalize(id)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO users (account_id, email, username) VALUES ($1, $2, $3)
		 ON CONFLICT (account_id) DO UPDATE SET email = EXCLUDED.email, username = EXCLUDED.username`,
		id.AccountID, id.Email, id.Username)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("identity insert failed: %w", err)
	}
	return nil
}
