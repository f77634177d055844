package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLedgerContract exercises the Ledger semantics every backend must share.
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) Ledger) {
	t.Run("absent balance reads as zero", func(t *testing.T) {
		l := newLedger(t)
		b, err := l.Balance(context.Background(), uuid.NewString())
		require.NoError(t, err)
		assert.Zero(t, b)
	})

	t.Run("open account is create-if-absent", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := uuid.NewString()

		require.NoError(t, l.Commit(ctx, OpenAccount{AccountID: acct, InitialBalance: 2000}))
		err := l.Commit(ctx, OpenAccount{AccountID: acct, InitialBalance: 2000})
		cf, ok := AsConditionFailed(err)
		require.True(t, ok)
		assert.Equal(t, ConditionAlreadyExists, cf.Condition)

		b, err := l.Balance(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), b)
	})

	t.Run("transfer writes commit together", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		a, b := uuid.NewString(), uuid.NewString()
		require.NoError(t, l.Commit(ctx, OpenAccount{AccountID: a, InitialBalance: 2000}))

		txID := uuid.NewString()
		require.NoError(t, l.Commit(ctx, transferWrites(a, b, txID, 500)...))

		balA, err := l.Balance(ctx, a)
		require.NoError(t, err)
		balB, err := l.Balance(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), balA)
		assert.Equal(t, int64(500), balB)

		recsA, err := l.Transactions(ctx, a)
		require.NoError(t, err)
		recsB, err := l.Transactions(ctx, b)
		require.NoError(t, err)
		require.Len(t, recsA, 1)
		require.Len(t, recsB, 1)
		assert.Equal(t, txID, recsA[0].TransactionID)
		assert.Equal(t, txID, recsB[0].TransactionID)
		assert.Zero(t, recsA[0].Amount+recsB[0].Amount)
	})

	t.Run("failed debit leaves nothing behind", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		a, b := uuid.NewString(), uuid.NewString()
		require.NoError(t, l.Commit(ctx, OpenAccount{AccountID: a, InitialBalance: 100}))

		writes := transferWrites(a, b, uuid.NewString(), 500)
		err := l.Commit(ctx, writes...)
		cf, ok := AsConditionFailed(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, ConditionInsufficientBalance, cf.Condition)
		assert.IsType(t, Debit{}, writes[cf.Index])

		balA, _ := l.Balance(ctx, a)
		balB, _ := l.Balance(ctx, b)
		assert.Equal(t, int64(100), balA)
		assert.Zero(t, balB)
		recs, err := l.Transactions(ctx, b)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("non-positive amounts are refused", func(t *testing.T) {
		l := newLedger(t)
		err := l.Commit(context.Background(), Credit{AccountID: uuid.NewString(), Amount: 0})
		cf, ok := AsConditionFailed(err)
		require.True(t, ok)
		assert.Equal(t, ConditionNonPositiveAmount, cf.Condition)
	})

	t.Run("request transition fires once", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		req := newRequest(uuid.NewString(), uuid.NewString(), 300)
		require.NoError(t, l.Commit(ctx, CreateRequest{Request: req}))

		now := time.Now().UTC()
		require.NoError(t, l.Commit(ctx, TransitionRequest{
			RequestID: req.RequestID, From: domain.StatusPending, To: domain.StatusRejected, UpdatedAt: now,
		}))
		err := l.Commit(ctx, TransitionRequest{
			RequestID: req.RequestID, From: domain.StatusPending, To: domain.StatusAccepted, UpdatedAt: now,
		})
		cf, ok := AsConditionFailed(err)
		require.True(t, ok)
		assert.Equal(t, ConditionStatusMismatch, cf.Condition)

		got, err := l.Request(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRejected, got.Status)
		assert.Empty(t, got.TransactionID)
	})

	t.Run("request listing by direction", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		from, to := uuid.NewString(), uuid.NewString()
		req := newRequest(from, to, 300)
		require.NoError(t, l.Commit(ctx, CreateRequest{Request: req}))

		sent, err := l.Requests(ctx, from, Sent)
		require.NoError(t, err)
		require.Len(t, sent, 1)
		received, err := l.Requests(ctx, to, Received)
		require.NoError(t, err)
		require.Len(t, received, 1)
		assert.Equal(t, req.RequestID, received[0].RequestID)
		none, err := l.Requests(ctx, from, Received)
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = l.Request(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("idempotency key claimed once", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		rec := domain.IdempotencyRecord{
			AccountID: uuid.NewString(), Key: "k1", Operation: "transfer",
			RequestHash: "h", ResultID: uuid.NewString(), CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, l.Commit(ctx, ReserveIdempotencyKey{Record: rec}))
		err := l.Commit(ctx, ReserveIdempotencyKey{Record: rec})
		cf, ok := AsConditionFailed(err)
		require.True(t, ok)
		assert.Equal(t, ConditionAlreadyExists, cf.Condition)

		got, err := l.Idempotency(ctx, rec.AccountID, "k1")
		require.NoError(t, err)
		assert.Equal(t, rec.ResultID, got.ResultID)
		_, err = l.Idempotency(ctx, rec.AccountID, "other")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		a := uuid.NewString()
		require.NoError(t, l.Commit(ctx, OpenAccount{AccountID: a, InitialBalance: 1000}))

		var wg sync.WaitGroup
		var ok atomic.Int64
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Commit(ctx, transferWrites(a, uuid.NewString(), uuid.NewString(), 300)...) == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()

		bal, err := l.Balance(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(3), ok.Load())
		assert.Equal(t, int64(100), bal)
	})
}

func transferWrites(from, to, txID string, amount int64) []Write {
	now := time.Now().UTC()
	return []Write{
		Debit{AccountID: from, Amount: amount},
		Credit{AccountID: to, Amount: amount},
		AppendTransaction{Record: domain.TransactionRecord{
			AccountID: from, TransactionID: txID, Amount: -amount, Timestamp: now,
			CounterpartyID: to, Kind: domain.KindTransferSent,
		}},
		AppendTransaction{Record: domain.TransactionRecord{
			AccountID: to, TransactionID: txID, Amount: amount, Timestamp: now,
			CounterpartyID: from, Kind: domain.KindTransferReceived,
		}},
	}
}

func newRequest(from, to string, amount int64) domain.MoneyRequest {
	now := time.Now().UTC()
	return domain.MoneyRequest{
		RequestID: uuid.NewString(), FromAccountID: from, ToAccountID: to, Amount: amount,
		Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
		FromEmail: "from@example.com", ToEmail: "to@example.com", FromUsername: "from", ToUsername: "to",
	}
}
