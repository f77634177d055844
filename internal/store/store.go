package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// ErrNotFound is returned by point reads when the item does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is an atomic store for balances, transaction records, money requests
// and idempotency keys. Balances change only through Commit.
type Ledger interface {
	// Balance returns the account's balance; an account never credited has 0.
	Balance(ctx context.Context, accountID string) (int64, error)
	// Commit applies every write or none. A failed condition is reported as
	// *ConditionFailedError naming the offending write's index.
	Commit(ctx context.Context, writes ...Write) error
	Request(ctx context.Context, requestID string) (*domain.MoneyRequest, error)
	Requests(ctx context.Context, accountID string, dir Direction) ([]domain.MoneyRequest, error)
	Transactions(ctx context.Context, accountID string) ([]domain.TransactionRecord, error)
	Idempotency(ctx context.Context, accountID, key string) (*domain.IdempotencyRecord, error)
}

// Direction selects which side of a request the account is on.
type Direction string

const (
	// Received lists requests the account is asked to pay.
	Received Direction = "received"
	// Sent lists requests the account created.
	Sent Direction = "sent"
)

// Write is one conditioned operation inside a Commit.
type Write interface {
	write()
}

// Debit subtracts Amount, conditioned on balance >= Amount.
type Debit struct {
	AccountID string
	Amount    int64
}

// Credit adds Amount, creating the balance at zero first if absent.
type Credit struct {
	AccountID string
	Amount    int64
}

// OpenAccount creates a balance at InitialBalance, conditioned on absence.
type OpenAccount struct {
	AccountID      string
	InitialBalance int64
}

// AppendTransaction inserts an immutable record, conditioned on its key being new.
type AppendTransaction struct {
	Record domain.TransactionRecord
}

// CreateRequest inserts a money request, conditioned on its id being new.
type CreateRequest struct {
	Request domain.MoneyRequest
}

// TransitionRequest moves a request From -> To, conditioned on status == From.
type TransitionRequest struct {
	RequestID     string
	From          domain.RequestStatus
	To            domain.RequestStatus
	TransactionID string
	UpdatedAt     time.Time
}

// ReserveIdempotencyKey claims a client key, conditioned on it being unused.
type ReserveIdempotencyKey struct {
	Record domain.IdempotencyRecord
}

func (Debit) write()                 {}
func (Credit) write()                {}
func (OpenAccount) write()           {}
func (AppendTransaction) write()     {}
func (CreateRequest) write()         {}
func (TransitionRequest) write()     {}
func (ReserveIdempotencyKey) write() {}

// Condition names the predicate that did not hold at commit time.
type Condition string

const (
	ConditionInsufficientBalance Condition = "insufficient_balance"
	ConditionNonPositiveAmount   Condition = "non_positive_amount"
	ConditionStatusMismatch      Condition = "status_mismatch"
	ConditionAlreadyExists       Condition = "already_exists"
)

// ConditionFailedError reports which write of a Commit was refused.
type ConditionFailedError struct {
	Index     int
	Condition Condition
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("condition %s failed on write %d", e.Condition, e.Index)
}

// AsConditionFailed unwraps a *ConditionFailedError.
func AsConditionFailed(err error) (*ConditionFailedError, bool) {
	var cf *ConditionFailedError
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}

// commitOrder returns the order writes are applied in. Keyed claims and
// request transitions go first so a lost race surfaces as a status or key
// conflict before any balance is touched. Balance rows are then taken in
// account-id order to avoid deadlocks, and records are appended last.
// Relative order inside each group is stable.
func commitOrder(writes []Write) []int {
	rank := func(w Write) int {
		switch w.(type) {
		case ReserveIdempotencyKey, TransitionRequest, CreateRequest:
			return 0
		case Debit, Credit, OpenAccount:
			return 1
		default:
			return 2
		}
	}
	order := make([]int, len(writes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		wa, wb := writes[order[a]], writes[order[b]]
		ra, rb := rank(wa), rank(wb)
		if ra != rb {
			return ra < rb
		}
		if ra == 1 {
			return balanceAccount(wa) < balanceAccount(wb)
		}
		return false
	})
	return order
}

func balanceAccount(w Write) string {
	switch w := w.(type) {
	case Debit:
		return w.AccountID
	case Credit:
		return w.AccountID
	case OpenAccount:
		return w.AccountID
	}
	return ""
}
