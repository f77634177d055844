package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/identity"
	"github.com/punchamoorthee/paysettle/internal/store"
	"go.uber.org/zap"
)

const opOpenAccount = "open_account"

type OpenAccountResult struct {
	Account  domain.Identity `json:"account"`
	Balance  int64           `json:"balance"`
	Credited bool            `json:"credited"`
}

// OpenAccount is the signup hook. It records the identity and opens the
// balance with the welcome bonus unless a balance already exists, so calling
// it again for the same account never pays the bonus twice.
func (s *SettlementService) OpenAccount(ctx context.Context, id domain.Identity) (res *OpenAccountResult, err error) {
	defer func() { observe(opOpenAccount, err) }()

	id.Email = domain.NormalizeEmail(id.Email)
	id.Username = domain.DefaultUsername(id.Username, id.Email)
	if err := s.identities.Register(ctx, id); err != nil {
		var de *domain.Error
		switch {
		case errors.As(err, &de):
			return nil, de
		case errors.Is(err, identity.ErrEmailTaken):
			return nil, domain.Invalid("email already registered to another account")
		}
		return nil, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("register identity: %w", err))
	}

	credited := true
	err = s.ledger.Commit(ctx, store.OpenAccount{AccountID: id.AccountID, InitialBalance: s.opts.WelcomeBonus})
	if cf, ok := store.AsConditionFailed(err); ok && cf.Condition == store.ConditionAlreadyExists {
		credited, err = false, nil
	}
	if err != nil {
		return nil, s.settlementFailed(opOpenAccount, err, zap.String("account_id", id.AccountID))
	}

	balance, err := s.ledger.Balance(ctx, id.AccountID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("read balance: %w", err))
	}
	if credited {
		s.logger.Info("account opened", zap.String("account_id", id.AccountID), zap.Int64("welcome_bonus", s.opts.WelcomeBonus))
	}
	return &OpenAccountResult{Account: id, Balance: balance, Credited: credited}, nil
}

// Balance returns the caller's current balance.
func (s *SettlementService) Balance(ctx context.Context, p domain.Principal) (domain.Account, error) {
	p, err := normalizePrincipal(p)
	if err != nil {
		return domain.Account{}, err
	}
	balance, err := s.ledger.Balance(ctx, p.AccountID)
	if err != nil {
		return domain.Account{}, domain.Wrap(domain.ErrSettlementFailed, err)
	}
	return domain.Account{ID: p.AccountID, Balance: balance}, nil
}

// Transactions lists the caller's ledger records, newest first.
func (s *SettlementService) Transactions(ctx context.Context, p domain.Principal) ([]domain.TransactionRecord, error) {
	p, err := normalizePrincipal(p)
	if err != nil {
		return nil, err
	}
	records, err := s.ledger.Transactions(ctx, p.AccountID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, err)
	}
	return records, nil
}

// Requests lists requests the caller received ("received", the default) or
// sent ("sent"), newest first.
func (s *SettlementService) Requests(ctx context.Context, p domain.Principal, direction string) ([]domain.MoneyRequest, error) {
	p, err := normalizePrincipal(p)
	if err != nil {
		return nil, err
	}
	dir := store.Received
	switch direction {
	case "", string(store.Received):
	case string(store.Sent):
		dir = store.Sent
	default:
		return nil, domain.Invalid("type must be received or sent")
	}
	requests, err := s.ledger.Requests(ctx, p.AccountID, dir)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, err)
	}
	return requests, nil
}
