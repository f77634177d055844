// Package registry tracks which real-time channels belong to which account.
//
// The table is a best-effort routing hint: the transport is authoritative, and
// a binding may outlive its channel until TTL expiry or the next failed send.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTTL matches how long a client is expected to keep one channel open.
const DefaultTTL = 24 * time.Hour

// Registry binds channels to accounts.
type Registry interface {
	Bind(ctx context.Context, channelID, accountID string) error
	// Unbind is idempotent.
	Unbind(ctx context.Context, channelID string) error
	ChannelsFor(ctx context.Context, accountID string) ([]string, error)
}

// Binding is one channel's routing entry.
type Binding struct {
	ChannelID   string
	AccountID   string
	ConnectedAt time.Time
	Expiry      time.Time
}

// Memory is a Registry for a single process.
type Memory struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	bindings  map[string]Binding
	byAccount map[string]map[string]struct{}
}

var _ Registry = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:       ttl,
		now:       time.Now,
		bindings:  make(map[string]Binding),
		byAccount: make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Bind(_ context.Context, channelID, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unbindLocked(channelID)
	now := m.now()
	m.bindings[channelID] = Binding{ChannelID: channelID, AccountID: accountID, ConnectedAt: now, Expiry: now.Add(m.ttl)}
	if m.byAccount[accountID] == nil {
		m.byAccount[accountID] = make(map[string]struct{})
	}
	m.byAccount[accountID][channelID] = struct{}{}
	return nil
}

func (m *Memory) Unbind(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unbindLocked(channelID)
	return nil
}

func (m *Memory) unbindLocked(channelID string) {
	b, ok := m.bindings[channelID]
	if !ok {
		return
	}
	delete(m.bindings, channelID)
	delete(m.byAccount[b.AccountID], channelID)
	if len(m.byAccount[b.AccountID]) == 0 {
		delete(m.byAccount, b.AccountID)
	}
}

// ChannelsFor returns the account's live channels, dropping expired ones.
func (m *Memory) ChannelsFor(_ context.Context, accountID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []string
	for id := range m.byAccount[accountID] {
		if !m.bindings[id].Expiry.After(now) {
			m.unbindLocked(id)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Sweep removes every expired binding and reports how many went.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, b := range m.bindings {
		if !b.Expiry.After(now) {
			m.unbindLocked(id)
			n++
		}
	}
	return n
}
