package store

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

type recordKey struct {
	accountID     string
	transactionID string
}

type idempotencyKey struct {
	accountID string
	key       string
}

// Memory is an in-process Ledger with the same conditioned-commit semantics
// as Postgres. A Commit validates every write against a staged view and only
// then applies them, all under one lock.
type Memory struct {
	mu           sync.RWMutex
	balances     map[string]int64
	transactions map[string][]domain.TransactionRecord
	recordKeys   map[recordKey]struct{}
	requests     map[string]domain.MoneyRequest
	idempotency  map[idempotencyKey]domain.IdempotencyRecord
}

var _ Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		balances:     make(map[string]int64),
		transactions: make(map[string][]domain.TransactionRecord),
		recordKeys:   make(map[recordKey]struct{}),
		requests:     make(map[string]domain.MoneyRequest),
		idempotency:  make(map[idempotencyKey]domain.IdempotencyRecord),
	}
}

func (m *Memory) Balance(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[accountID], nil
}

// staged holds the effect of a Commit before it is applied.
type staged struct {
	balances    map[string]int64
	opened      map[string]bool
	recordKeys  map[recordKey]struct{}
	requests    map[string]domain.MoneyRequest
	idempotency map[idempotencyKey]struct{}
}

func (m *Memory) Commit(ctx context.Context, writes ...Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := staged{
		balances:    make(map[string]int64),
		opened:      make(map[string]bool),
		recordKeys:  make(map[recordKey]struct{}),
		requests:    make(map[string]domain.MoneyRequest),
		idempotency: make(map[idempotencyKey]struct{}),
	}
	balance := func(id string) (int64, bool) {
		if b, ok := st.balances[id]; ok {
			return b, true
		}
		b, ok := m.balances[id]
		return b, ok
	}

	for _, i := range commitOrder(writes) {
		fail := func(c Condition) error { return &ConditionFailedError{Index: i, Condition: c} }

		switch w := writes[i].(type) {
		case Debit:
			if w.Amount <= 0 {
				return fail(ConditionNonPositiveAmount)
			}
			b, _ := balance(w.AccountID)
			if b < w.Amount {
				return fail(ConditionInsufficientBalance)
			}
			st.balances[w.AccountID] = b - w.Amount
		case Credit:
			if w.Amount <= 0 {
				return fail(ConditionNonPositiveAmount)
			}
			b, _ := balance(w.AccountID)
			st.balances[w.AccountID] = b + w.Amount
		case OpenAccount:
			if w.InitialBalance < 0 {
				return fail(ConditionNonPositiveAmount)
			}
			if _, ok := balance(w.AccountID); ok || st.opened[w.AccountID] {
				return fail(ConditionAlreadyExists)
			}
			st.balances[w.AccountID] = w.InitialBalance
			st.opened[w.AccountID] = true
		case AppendTransaction:
			k := recordKey{w.Record.AccountID, w.Record.TransactionID}
			_, exists := m.recordKeys[k]
			_, pending := st.recordKeys[k]
			if exists || pending {
				return fail(ConditionAlreadyExists)
			}
			st.recordKeys[k] = struct{}{}
		case CreateRequest:
			_, exists := m.requests[w.Request.RequestID]
			_, pending := st.requests[w.Request.RequestID]
			if exists || pending {
				return fail(ConditionAlreadyExists)
			}
			st.requests[w.Request.RequestID] = w.Request
		case TransitionRequest:
			req, ok := st.requests[w.RequestID]
			if !ok {
				req, ok = m.requests[w.RequestID]
			}
			if !ok || req.Status != w.From {
				return fail(ConditionStatusMismatch)
			}
			req.Status = w.To
			req.UpdatedAt = w.UpdatedAt
			if w.TransactionID != "" {
				req.TransactionID = w.TransactionID
			}
			st.requests[w.RequestID] = req
		case ReserveIdempotencyKey:
			k := idempotencyKey{w.Record.AccountID, w.Record.Key}
			_, exists := m.idempotency[k]
			_, pending := st.idempotency[k]
			if exists || pending {
				return fail(ConditionAlreadyExists)
			}
			st.idempotency[k] = struct{}{}
		}
	}

	for id, b := range st.balances {
		m.balances[id] = b
	}
	for id, req := range st.requests {
		m.requests[id] = req
	}
	for _, w := range writes {
		switch w := w.(type) {
		case AppendTransaction:
			m.recordKeys[recordKey{w.Record.AccountID, w.Record.TransactionID}] = struct{}{}
			m.transactions[w.Record.AccountID] = append(m.transactions[w.Record.AccountID], w.Record)
		case ReserveIdempotencyKey:
			m.idempotency[idempotencyKey{w.Record.AccountID, w.Record.Key}] = w.Record
		}
	}
	return nil
}

func (m *Memory) Request(ctx context.Context, requestID string) (*domain.MoneyRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *Memory) Requests(ctx context.Context, accountID string, dir Direction) ([]domain.MoneyRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MoneyRequest
	for _, req := range m.requests {
		if (dir == Sent && req.FromAccountID == accountID) || (dir != Sent && req.ToAccountID == accountID) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Transactions(ctx context.Context, accountID string) ([]domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.transactions[accountID]
	out := make([]domain.TransactionRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

func (m *Memory) Idempotency(ctx context.Context, accountID, key string) (*domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.idempotency[idempotencyKey{accountID, key}]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}
