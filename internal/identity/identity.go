// Package identity resolves human-readable addresses to account identifiers.
// The identity provider owns these records; this package only mirrors what the
// signup hook tells it.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

var (
	ErrNotFound   = errors.New("identity not found")
	ErrEmailTaken = errors.New("email already registered to another account")
)

// Resolver maps an email to the account that owns it.
type Resolver interface {
	ResolveByEmail(ctx context.Context, email string) (domain.Identity, error)
}

// Directory is a Resolver that can also record new identities.
type Directory interface {
	Resolver
	Register(ctx context.Context, id domain.Identity) error
}

func normalize(id domain.Identity) (domain.Identity, error) {
	id.AccountID = strings.TrimSpace(id.AccountID)
	id.Email = domain.NormalizeEmail(id.Email)
	if id.AccountID == "" || !strings.Contains(id.Email, "@") {
		return id, domain.Invalid("account id and a valid email are required")
	}
	id.Username = domain.DefaultUsername(id.Username, id.Email)
	return id, nil
}

// Memory is a Directory kept in process memory.
type Memory struct {
	mu        sync.RWMutex
	byEmail   map[string]domain.Identity
	byAccount map[string]string
}

var _ Directory = (*Memory)(nil)

func NewMemory(ids ...domain.Identity) *Memory {
	m := &Memory{
		byEmail:   make(map[string]domain.Identity),
		byAccount: make(map[string]string),
	}
	for _, id := range ids {
		_ = m.Register(context.Background(), id)
	}
	return m
}

func (m *Memory) ResolveByEmail(_ context.Context, email string) (domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return domain.Identity{}, ErrNotFound
	}
	return id, nil
}

// Register adds or updates an identity. Re-registering the same account is
// an update; claiming another account's email fails with ErrEmailTaken.
func (m *Memory) Register(_ context.Context, id domain.Identity) error {
	id, err := normalize(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.byEmail[id.Email]; ok && owner.AccountID != id.AccountID {
		return ErrEmailTaken
	}
	if old, ok := m.byAccount[id.AccountID]; ok {
		delete(m.byEmail, old)
	}
	m.byEmail[id.Email] = id
	m.byAccount[id.AccountID] = id.Email
	return nil
}
