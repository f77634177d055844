package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/paysettle/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// Postgres is the Ledger backed by a pgx pool. Each Commit runs in a single
// transaction whose conditions are expressed in the WHERE clauses, so the
// database evaluates them under row locks at commit time.
type Postgres struct {
	Db *pgxpool.Pool
}

var _ Ledger = (*Postgres)(nil)

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (s *Postgres) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.Db.QueryRow(ctx, "SELECT balance FROM balances WHERE account_id = $1", accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance query failed: %w", err)
	}
	return balance, nil
}

func (s *Postgres) Commit(ctx context.Context, writes ...Write) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, i := range commitOrder(writes) {
		cond, err := apply(ctx, tx, writes[i])
		if err != nil {
			return err
		}
		if cond != "" {
			return &ConditionFailedError{Index: i, Condition: cond}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// apply executes one write. A non-empty Condition means the write was refused.
func apply(ctx context.Context, tx pgx.Tx, w Write) (Condition, error) {
	switch w := w.(type) {
	case Debit:
		if w.Amount <= 0 {
			return ConditionNonPositiveAmount, nil
		}
		tag, err := tx.Exec(ctx,
			"UPDATE balances SET balance = balance - $2, updated_at = now() WHERE account_id = $1 AND balance >= $2",
			w.AccountID, w.Amount)
		if isPgCode(err, pgCheckViolation) {
			return ConditionInsufficientBalance, nil
		}
		if err != nil {
			return "", fmt.Errorf("debit failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ConditionInsufficientBalance, nil
		}

	case Credit:
		if w.Amount <= 0 {
			return ConditionNonPositiveAmount, nil
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO balances (account_id, balance) VALUES ($1, $2)
			 ON CONFLICT (account_id) DO UPDATE SET balance = balances.balance + EXCLUDED.balance, updated_at = now()`,
			w.AccountID, w.Amount)
		if err != nil {
			return "", fmt.Errorf("credit failed: %w", err)
		}

	case OpenAccount:
		if w.InitialBalance < 0 {
			return ConditionNonPositiveAmount, nil
		}
		tag, err := tx.Exec(ctx,
			"INSERT INTO balances (account_id, balance) VALUES ($1, $2) ON CONFLICT (account_id) DO NOTHING",
			w.AccountID, w.InitialBalance)
		if err != nil {
			return "", fmt.Errorf("account open failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ConditionAlreadyExists, nil
		}

	case AppendTransaction:
		r := w.Record
		_, err := tx.Exec(ctx,
			`INSERT INTO transactions (account_id, transaction_id, amount, occurred_at,
			   counterparty_id, counterparty_email, counterparty_username, kind)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.AccountID, r.TransactionID, r.Amount, r.Timestamp,
			r.CounterpartyID, r.CounterpartyEmail, r.CounterpartyUsername, string(r.Kind))
		if isPgCode(err, pgUniqueViolation) {
			return ConditionAlreadyExists, nil
		}
		if err != nil {
			return "", fmt.Errorf("transaction insert failed: %w", err)
		}

	case CreateRequest:
		r := w.Request
		_, err := tx.Exec(ctx,
			`INSERT INTO money_requests (request_id, from_account_id, to_account_id, amount, message, status,
			   created_at, updated_at, from_email, to_email, from_username, to_username)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			r.RequestID, r.FromAccountID, r.ToAccountID, r.Amount, r.Message, string(r.Status),
			r.CreatedAt, r.UpdatedAt, r.FromEmail, r.ToEmail, r.FromUsername, r.ToUsername)
		if isPgCode(err, pgUniqueViolation) {
			return ConditionAlreadyExists, nil
		}
		if err != nil {
			return "", fmt.Errorf("request insert failed: %w", err)
		}

	case TransitionRequest:
		tag, err := tx.Exec(ctx,
			`UPDATE money_requests SET status = $3, updated_at = $4,
			   transaction_id = COALESCE(NULLIF($5, ''), transaction_id)
			 WHERE request_id = $1 AND status = $2`,
			w.RequestID, string(w.From), string(w.To), w.UpdatedAt, w.TransactionID)
		if err != nil {
			return "", fmt.Errorf("request transition failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ConditionStatusMismatch, nil
		}

	case ReserveIdempotencyKey:
		r := w.Record
		tag, err := tx.Exec(ctx,
			`INSERT INTO idempotency_keys (account_id, key, operation, request_hash, result_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (account_id, key) DO NOTHING`,
			r.AccountID, r.Key, r.Operation, r.RequestHash, r.ResultID, r.CreatedAt)
		if err != nil {
			return "", fmt.Errorf("key reservation failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ConditionAlreadyExists, nil
		}

	default:
		return "", fmt.Errorf("unsupported write %T", w)
	}
	return "", nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

const requestColumns = `request_id, from_account_id, to_account_id, amount, message, status,
	created_at, updated_at, from_email, to_email, from_username, to_username, COALESCE(transaction_id, '')`

func scanRequest(row pgx.Row) (*domain.MoneyRequest, error) {
	var r domain.MoneyRequest
	var status string
	err := row.Scan(&r.RequestID, &r.FromAccountID, &r.ToAccountID, &r.Amount, &r.Message, &status,
		&r.CreatedAt, &r.UpdatedAt, &r.FromEmail, &r.ToEmail, &r.FromUsername, &r.ToUsername, &r.TransactionID)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RequestStatus(status)
	return &r, nil
}

func (s *Postgres) Request(ctx context.Context, requestID string) (*domain.MoneyRequest, error) {
	r, err := scanRequest(s.Db.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM money_requests WHERE request_id = $1", requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("request query failed: %w", err)
	}
	return r, nil
}

func (s *Postgres) Requests(ctx context.Context, accountID string, dir Direction) ([]domain.MoneyRequest, error) {
	column := "to_account_id"
	if dir == Sent {
		column = "from_account_id"
	}
	rows, err := s.Db.Query(ctx,
		"SELECT "+requestColumns+" FROM money_requests WHERE "+column+" = $1 ORDER BY created_at DESC",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("requests query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.MoneyRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request scan failed: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Postgres) Transactions(ctx context.Context, accountID string) ([]domain.TransactionRecord, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT account_id, transaction_id, amount, occurred_at, counterparty_id,
		   counterparty_email, counterparty_username, kind
		 FROM transactions WHERE account_id = $1 ORDER BY occurred_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("transactions query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		var r domain.TransactionRecord
		var kind string
		if err := rows.Scan(&r.AccountID, &r.TransactionID, &r.Amount, &r.Timestamp, &r.CounterpartyID,
			&r.CounterpartyEmail, &r.CounterpartyUsername, &kind); err != nil {
			return nil, fmt.Errorf("transaction scan failed: %w", err)
		}
		r.Kind = domain.TransactionKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) Idempotency(ctx context.Context, accountID, key string) (*domain.IdempotencyRecord, error) {
	var r domain.IdempotencyRecord
	err := s.Db.QueryRow(ctx,
		`SELECT account_id, key, operation, request_hash, result_id, created_at
		 FROM idempotency_keys WHERE account_id = $1 AND key = $2`,
		accountID, key).Scan(&r.AccountID, &r.Key, &r.Operation, &r.RequestHash, &r.ResultID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return &r, nil
}
