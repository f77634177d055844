package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/identity"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"github.com/punchamoorthee/paysettle/internal/notify/notifytest"
	"github.com/punchamoorthee/paysettle/internal/registry"
	"github.com/punchamoorthee/paysettle/internal/service"
	"github.com/punchamoorthee/paysettle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = domain.Principal{AccountID: "acct-alice", Email: "alice@example.com", Username: "alice"}
	bob   = domain.Principal{AccountID: "acct-bob", Email: "bob@example.com", Username: "bob"}
	carol = domain.Principal{AccountID: "acct-carol", Email: "carol@example.com"}

	fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc        *service.SettlementService
	ledger     *store.Memory
	identities *identity.Memory
	routes     *registry.Memory
	transport  *notifytest.Recorder
}

func newFixture(t *testing.T, balances map[string]int64) *fixture {
	t.Helper()

	ctx := context.Background()
	ledger := store.NewMemory()
	for id, b := range balances {
		require.NoError(t, ledger.Commit(ctx, store.OpenAccount{AccountID: id, InitialBalance: b}))
	}
	identities := identity.NewMemory(
		domain.Identity(alice),
		domain.Identity(bob),
		domain.Identity(carol),
	)

	routes := registry.NewMemory(time.Hour)
	require.NoError(t, routes.Bind(ctx, "alice-ch", alice.AccountID))
	require.NoError(t, routes.Bind(ctx, "bob-ch", bob.AccountID))

	transport := notifytest.NewRecorder()
	dispatcher := notify.NewDispatcher(routes, transport, zap.NewNop())

	svc := service.NewSettlementService(ledger, identities, dispatcher, zap.NewNop(), service.Options{
		Limits:       service.Limits{MaxTransfer: 1_000_000, MaxRequest: 500_000},
		WelcomeBonus: 2000,
		Now:          func() time.Time { return fixedNow },
	})
	t.Cleanup(svc.Drain)

	return &fixture{svc: svc, ledger: ledger, identities: identities, routes: routes, transport: transport}
}

func (f *fixture) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (f *fixture) transactions(t *testing.T, accountID string) []domain.TransactionRecord {
	t.Helper()
	records, err := f.ledger.Transactions(context.Background(), accountID)
	require.NoError(t, err)
	return records
}

// events returns the event types delivered to a channel, in order.
func (f *fixture) events(channelID string) []notify.Event {
	var out []notify.Event
	for _, m := range f.transport.Messages(channelID) {
		out = append(out, m.Event)
	}
	return out
}

func requireCode(t *testing.T, want domain.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, domain.CodeOf(err), "error: %v", err)
}
