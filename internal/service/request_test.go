package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"github.com/punchamoorthee/paysettle/internal/service"
	"github.com/punchamoorthee/paysettle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bobAsksAlice submits a request from bob to alice for amount.
func bobAsksAlice(t *testing.T, f *fixture, amount int64) *service.RequestResult {
	t.Helper()
	res, err := f.svc.SubmitRequest(context.Background(), bob, service.RequestInput{
		RecipientEmail: alice.Email,
		Amount:         amount,
		Message:        "  dinner  ",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) request(t *testing.T, id string) *domain.MoneyRequest {
	t.Helper()
	req, err := f.ledger.Request(context.Background(), id)
	require.NoError(t, err)
	return req
}

func TestSubmitRequestCreatesPendingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 2000})
	res := bobAsksAlice(t, f, 300)
	f.svc.Drain()

	assert.Equal(t, domain.StatusPending, res.Status)
	assert.Equal(t, alice.AccountID, res.Recipient.ID)

	req := f.request(t, res.RequestID)
	assert.Equal(t, bob.AccountID, req.FromAccountID)
	assert.Equal(t, alice.AccountID, req.ToAccountID)
	assert.Equal(t, "dinner", req.Message)
	assert.Equal(t, "bob", req.FromUsername)
	assert.Equal(t, "alice", req.ToUsername)
	assert.Empty(t, req.TransactionID)

	assert.Equal(t, int64(2000), f.balance(t, alice.AccountID))
	assert.Zero(t, f.balance(t, bob.AccountID))

	assert.Equal(t, []notify.Event{notify.RequestEvent{
		Kind:      notify.NewRequest,
		RequestID: res.RequestID,
		Amount:    300,
		From:      domain.Party{ID: bob.AccountID, Email: bob.Email, Username: bob.Username},
		Message:   "dinner",
		Timestamp: notify.Timestamp(fixedNow),
	}}, f.events("alice-ch"))
	assert.Empty(t, f.transport.Messages("bob-ch"))
}

func TestSubmitRequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   service.RequestInput
		want domain.Code
	}{
		{"zero amount", service.RequestInput{RecipientEmail: alice.Email}, domain.CodeInvalidAmount},
		{"above request ceiling", service.RequestInput{RecipientEmail: alice.Email, Amount: 500_001}, domain.CodeInvalidAmount},
		{"self request", service.RequestInput{RecipientEmail: bob.Email, Amount: 10}, domain.CodeSelfRequest},
		{"unknown payer", service.RequestInput{RecipientEmail: "ghost@example.com", Amount: 10}, domain.CodeRecipientNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			_, err := f.svc.SubmitRequest(context.Background(), bob, tt.in)
			requireCode(t, tt.want, err)

			sent, err := f.ledger.Requests(context.Background(), bob.AccountID, store.Sent)
			require.NoError(t, err)
			assert.Empty(t, sent)
		})
	}
}

func TestSubmitRequestTruncatesMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res, err := f.svc.SubmitRequest(context.Background(), bob, service.RequestInput{
		RecipientEmail: alice.Email,
		Amount:         10,
		Message:        strings.Repeat("é", 600),
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 500), f.request(t, res.RequestID).Message)
}

func TestSubmitRequestIdempotencyKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	in := service.RequestInput{RecipientEmail: alice.Email, Amount: 50, Message: "rent", IdempotencyKey: "req-1"}

	first, err := f.svc.SubmitRequest(ctx, bob, in)
	require.NoError(t, err)
	again, err := f.svc.SubmitRequest(ctx, bob, in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.RequestID, again.RequestID)

	received, err := f.ledger.Requests(ctx, alice.AccountID, store.Received)
	require.NoError(t, err)
	assert.Len(t, received, 1)

	in.Message = "rent, again"
	_, err = f.svc.SubmitRequest(ctx, bob, in)
	requireCode(t, domain.CodeIdempotencyMismatch, err)

	// Same key for a different operation is also a mismatch.
	_, err = f.svc.Transfer(ctx, bob, service.TransferInput{RecipientEmail: alice.Email, Amount: 50, IdempotencyKey: "req-1"})
	requireCode(t, domain.CodeIdempotencyMismatch, err)
}

func TestRejectThenRespondAgain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 2000})
	ctx := context.Background()
	req := bobAsksAlice(t, f, 300)

	res, err := f.svc.RespondToRequest(ctx, alice, req.RequestID, "reject")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Status)
	assert.Empty(t, res.TransactionID)

	stored := f.request(t, req.RequestID)
	assert.Equal(t, domain.StatusRejected, stored.Status)
	assert.Equal(t, int64(2000), f.balance(t, alice.AccountID))
	assert.Zero(t, f.balance(t, bob.AccountID))

	for _, action := range []string{"ACCEPT", "REJECT"} {
		_, err := f.svc.RespondToRequest(ctx, alice, req.RequestID, action)
		requireCode(t, domain.CodeAlreadyProcessed, err)
	}

	f.svc.Drain()
	assert.Equal(t, []notify.Event{notify.RequestEvent{
		Kind:      notify.RequestRejected,
		RequestID: req.RequestID,
		Amount:    300,
		From:      domain.Party{ID: alice.AccountID, Email: alice.Email, Username: alice.Username},
		Timestamp: notify.Timestamp(fixedNow),
	}}, f.events("bob-ch"))
}

func TestAcceptSettlesRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 2000})
	ctx := context.Background()
	req := bobAsksAlice(t, f, 300)
	f.svc.Drain()

	res, err := f.svc.RespondToRequest(ctx, alice, req.RequestID, "ACCEPT")
	require.NoError(t, err)
	require.NotEmpty(t, res.TransactionID)
	assert.Equal(t, domain.StatusAccepted, res.Status)

	assert.Equal(t, int64(1700), f.balance(t, alice.AccountID))
	assert.Equal(t, int64(300), f.balance(t, bob.AccountID))

	stored := f.request(t, req.RequestID)
	assert.Equal(t, domain.StatusAccepted, stored.Status)
	assert.Equal(t, res.TransactionID, stored.TransactionID)

	paid := f.transactions(t, alice.AccountID)
	got := f.transactions(t, bob.AccountID)
	require.Len(t, paid, 1)
	require.Len(t, got, 1)
	assert.Equal(t, domain.KindRequestPayment, paid[0].Kind)
	assert.Equal(t, domain.KindRequestReceived, got[0].Kind)
	assert.Equal(t, int64(-300), paid[0].Amount)
	assert.Equal(t, int64(300), got[0].Amount)
	assert.Equal(t, res.TransactionID, paid[0].TransactionID)
	assert.Equal(t, res.TransactionID, got[0].TransactionID)

	f.svc.Drain()
	stamp := notify.Timestamp(fixedNow)
	alicesParty := domain.Party{ID: alice.AccountID, Email: alice.Email, Username: alice.Username}
	assert.Equal(t, []notify.Event{
		notify.RequestEvent{
			Kind:          notify.RequestAccepted,
			RequestID:     req.RequestID,
			Amount:        300,
			From:          alicesParty,
			TransactionID: res.TransactionID,
			Timestamp:     stamp,
		},
		notify.TransactionEvent{
			Direction:     notify.Received,
			Amount:        300,
			Counterparty:  alicesParty,
			TransactionID: res.TransactionID,
			Timestamp:     stamp,
			Source:        notify.SourceRequest,
		},
		notify.BalanceEvent{Balance: 300},
	}, f.events("bob-ch"))

	aliceEvents := f.events("alice-ch")
	require.Len(t, aliceEvents, 3) // NEW_REQUEST, SENT, BALANCE_UPDATE
	assert.Equal(t, notify.TransactionEvent{
		Direction:     notify.Sent,
		Amount:        300,
		Counterparty:  domain.Party{ID: bob.AccountID, Email: bob.Email, Username: bob.Username},
		TransactionID: res.TransactionID,
		Timestamp:     stamp,
		Source:        notify.SourceRequest,
	}, aliceEvents[1])
	assert.Equal(t, notify.BalanceEvent{Balance: 1700}, aliceEvents[2])
}

func TestAcceptWithInsufficientBalanceStaysPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 200})
	req := bobAsksAlice(t, f, 300)

	_, err := f.svc.RespondToRequest(context.Background(), alice, req.RequestID, "ACCEPT")
	requireCode(t, domain.CodeInsufficientBalance, err)

	assert.Equal(t, domain.StatusPending, f.request(t, req.RequestID).Status)
	assert.Equal(t, int64(200), f.balance(t, alice.AccountID))
	assert.Empty(t, f.transactions(t, alice.AccountID))
}

func TestConcurrentAcceptsSettleOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 2000})
	req := bobAsksAlice(t, f, 300)

	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.RespondToRequest(context.Background(), alice, req.RequestID, "ACCEPT")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Contains(t,
			[]domain.Code{domain.CodeAlreadyProcessed, domain.CodeConcurrentModification},
			domain.CodeOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1700), f.balance(t, alice.AccountID))
	assert.Equal(t, int64(300), f.balance(t, bob.AccountID))
	assert.Len(t, f.transactions(t, bob.AccountID), 1)
}

func TestAcceptAndRejectRace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 2000})
	req := bobAsksAlice(t, f, 300)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, action := range []string{"ACCEPT", "REJECT"} {
		i, action := i, action
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.RespondToRequest(context.Background(), alice, req.RequestID, action)
		}()
	}
	wg.Wait()

	status := f.request(t, req.RequestID).Status
	require.True(t, status.Terminal())
	if status == domain.StatusAccepted {
		assert.NoError(t, errs[0])
		assert.Error(t, errs[1])
		assert.Equal(t, int64(1700), f.balance(t, alice.AccountID))
	} else {
		assert.Error(t, errs[0])
		assert.NoError(t, errs[1])
		assert.Equal(t, int64(2000), f.balance(t, alice.AccountID))
	}
}

func TestRespondGuards(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{alice.AccountID: 2000})
	ctx := context.Background()
	req := bobAsksAlice(t, f, 300)

	_, err := f.svc.RespondToRequest(ctx, alice, req.RequestID, "MAYBE")
	requireCode(t, domain.CodeInvalidAction, err)

	_, err = f.svc.RespondToRequest(ctx, alice, "no-such-request", "ACCEPT")
	requireCode(t, domain.CodeNotFound, err)

	_, err = f.svc.RespondToRequest(ctx, carol, req.RequestID, "ACCEPT")
	requireCode(t, domain.CodeForbidden, err)

	// The requester cannot answer their own request either.
	_, err = f.svc.RespondToRequest(ctx, bob, req.RequestID, "ACCEPT")
	requireCode(t, domain.CodeForbidden, err)

	assert.Equal(t, domain.StatusPending, f.request(t, req.RequestID).Status)
}

func TestRespondRevalidatesStoredAmount(t *testing.T) {
	t.Parallel()

	for name, amount := range map[string]int64{"zero": 0, "negative": -300, "above transfer limit": 1_000_001} {
		amount := amount
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, map[string]int64{alice.AccountID: 5_000_000})
			ctx := context.Background()
			require.NoError(t, f.ledger.Commit(ctx, store.CreateRequest{Request: domain.MoneyRequest{
				RequestID:     "corrupt",
				FromAccountID: bob.AccountID,
				ToAccountID:   alice.AccountID,
				Amount:        amount,
				Status:        domain.StatusPending,
				CreatedAt:     fixedNow,
				UpdatedAt:     fixedNow,
			}}))

			_, err := f.svc.RespondToRequest(ctx, alice, "corrupt", "ACCEPT")
			requireCode(t, domain.CodeInvalidRequestState, err)
			assert.Equal(t, domain.StatusPending, f.request(t, "corrupt").Status)
			assert.Equal(t, int64(5_000_000), f.balance(t, alice.AccountID))
		})
	}
}
