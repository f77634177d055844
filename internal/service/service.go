// Package service holds the settlement engines: direct transfers, money
// requests and the account reads around them. Every balance change goes
// through exactly one store.Ledger Commit; notifications follow on a
// background goroutine and never change a result.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/identity"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"github.com/punchamoorthee/paysettle/internal/store"
	"go.uber.org/zap"
)

// Notifier fans an event out to an account's live channels.
type Notifier interface {
	Notify(ctx context.Context, accountID string, ev notify.Event, at time.Time)
}

// Limits caps single movements, in minor units.
type Limits struct {
	MaxTransfer int64
	MaxRequest  int64
}

type Options struct {
	Limits        Limits
	WelcomeBonus  int64
	NotifyTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

const (
	DefaultMaxTransfer   int64 = 1_000_000
	DefaultMaxRequest    int64 = 500_000
	DefaultNotifyTimeout       = 10 * time.Second
)

type SettlementService struct {
	ledger     store.Ledger
	identities identity.Directory
	notifier   Notifier
	logger     *zap.Logger
	opts       Options

	inflight sync.WaitGroup
}

func NewSettlementService(ledger store.Ledger, identities identity.Directory, notifier Notifier, logger *zap.Logger, opts Options) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Limits.MaxTransfer <= 0 {
		opts.Limits.MaxTransfer = DefaultMaxTransfer
	}
	if opts.Limits.MaxRequest <= 0 {
		opts.Limits.MaxRequest = DefaultMaxRequest
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &SettlementService{
		ledger:     ledger,
		identities: identities,
		notifier:   notifier,
		logger:     logger.Named("settlement"),
		opts:       opts,
	}
}

// Drain blocks until every background notification fan-out has finished.
func (s *SettlementService) Drain() {
	s.inflight.Wait()
}

func (s *SettlementService) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Millisecond)
}

func normalizePrincipal(p domain.Principal) (domain.Principal, error) {
	p.AccountID = strings.TrimSpace(p.AccountID)
	p.Email = domain.NormalizeEmail(p.Email)
	if p.AccountID == "" || p.Email == "" {
		return p, domain.Invalid("caller identity is incomplete")
	}
	p.Username = domain.DefaultUsername(p.Username, p.Email)
	return p, nil
}

// resolveCounterparty validates recipientEmail and maps it to an account.
// selfErr is returned when the address belongs to the caller.
func (s *SettlementService) resolveCounterparty(ctx context.Context, p domain.Principal, recipientEmail string, selfErr *domain.Error) (domain.Identity, error) {
	email := domain.NormalizeEmail(recipientEmail)
	if email == "" {
		return domain.Identity{}, domain.Invalid("recipient email is required")
	}
	if email == p.Email {
		return domain.Identity{}, selfErr
	}
	id, err := s.identities.ResolveByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return domain.Identity{}, domain.ErrRecipientNotFound
	}
	if err != nil {
		return domain.Identity{}, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("resolve recipient: %w", err))
	}
	if id.AccountID == p.AccountID {
		return domain.Identity{}, selfErr
	}
	id.Username = domain.DefaultUsername(id.Username, id.Email)
	return id, nil
}

func requestHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// claimed returns the record already stored under key, if any. A record
// with a different payload hash is an IDEMPOTENCY_MISMATCH.
func (s *SettlementService) claimed(ctx context.Context, accountID, key, operation, hash string) (*domain.IdempotencyRecord, error) {
	rec, err := s.ledger.Idempotency(ctx, accountID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("idempotency lookup: %w", err))
	}
	if rec.Operation != operation || rec.RequestHash != hash {
		return nil, domain.ErrIdempotencyMismatch
	}
	return rec, nil
}

// delivery is one event addressed to one account.
type delivery struct {
	accountID string
	event     notify.Event
}

// publish sends deliveries in order and then a post-commit balance snapshot
// for each account in snapshots, all stamped with at. It runs detached from
// the caller's context.
func (s *SettlementService) publish(ctx context.Context, at time.Time, deliveries []delivery, snapshots ...string) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
		defer cancel()

		for _, d := range deliveries {
			s.notifier.Notify(ctx, d.accountID, d.event, at)
		}
		for _, accountID := range snapshots {
			balance, err := s.ledger.Balance(ctx, accountID)
			if err != nil {
				s.logger.Warn("balance snapshot failed", zap.String("account_id", accountID), zap.Error(err))
				continue
			}
			s.notifier.Notify(ctx, accountID, notify.BalanceEvent{Balance: balance}, at)
		}
	}()
}

// settlementFailed logs and wraps an unclassified store failure.
func (s *SettlementService) settlementFailed(op string, err error, fields ...zap.Field) error {
	s.logger.Error(op+" commit failed", append(fields, zap.Error(err))...)
	return domain.Wrap(domain.ErrSettlementFailed, err)
}

// observe records the outcome of op in the settlements counter.
func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = strings.ToLower(string(domain.CodeOf(err)))
		if result == "" {
			result = "error"
		}
	}
	settlementsTotal.WithLabelValues(op, result).Inc()
}
