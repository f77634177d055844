package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"github.com/punchamoorthee/paysettle/internal/store"
	"go.uber.org/zap"
)

const (
	opSubmitRequest = "submit_request"
	opRespond       = "respond_request"
)

type RequestInput struct {
	RecipientEmail string
	Amount         int64
	Message        string
	IdempotencyKey string
}

type RequestResult struct {
	RequestID string               `json:"request_id"`
	Status    domain.RequestStatus `json:"status"`
	Amount    int64                `json:"amount"`
	Recipient domain.Party         `json:"recipient"`
	CreatedAt time.Time            `json:"created_at"`
	Replayed  bool                 `json:"replayed,omitempty"`
}

type RespondResult struct {
	RequestID     string               `json:"request_id"`
	Status        domain.RequestStatus `json:"status"`
	TransactionID string               `json:"transaction_id,omitempty"`
}

// SubmitRequest records a PENDING request asking the owner of
// in.RecipientEmail to pay the caller. Balances are not touched.
func (s *SettlementService) SubmitRequest(ctx context.Context, p domain.Principal, in RequestInput) (res *RequestResult, err error) {
	defer func() { observe(opSubmitRequest, err) }()

	p, err = normalizePrincipal(p)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(in.Amount, s.opts.Limits.MaxRequest); err != nil {
		return nil, err
	}
	message := domain.TruncateMessage(in.Message)
	payer, err := s.resolveCounterparty(ctx, p, in.RecipientEmail, domain.ErrSelfRequest)
	if err != nil {
		return nil, err
	}

	hash := requestHash(opSubmitRequest, payer.AccountID, strconv.FormatInt(in.Amount, 10), message)
	if in.IdempotencyKey != "" {
		rec, err := s.claimed(ctx, p.AccountID, in.IdempotencyKey, opSubmitRequest, hash)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return s.replayRequest(ctx, rec)
		}
	}

	at := s.now()
	req := domain.MoneyRequest{
		RequestID:     s.opts.NewID(),
		FromAccountID: p.AccountID,
		ToAccountID:   payer.AccountID,
		Amount:        in.Amount,
		Message:       message,
		Status:        domain.StatusPending,
		CreatedAt:     at,
		UpdatedAt:     at,
		FromEmail:     p.Email,
		ToEmail:       payer.Email,
		FromUsername:  p.Username,
		ToUsername:    payer.Username,
	}
	writes := []store.Write{store.CreateRequest{Request: req}}
	if in.IdempotencyKey != "" {
		writes = append(writes, store.ReserveIdempotencyKey{Record: domain.IdempotencyRecord{
			AccountID:   p.AccountID,
			Key:         in.IdempotencyKey,
			Operation:   opSubmitRequest,
			RequestHash: hash,
			ResultID:    req.RequestID,
			CreatedAt:   at,
		}})
	}

	if err := s.ledger.Commit(ctx, writes...); err != nil {
		if cf, ok := store.AsConditionFailed(err); ok && cf.Index == 1 {
			rec, err := s.claimed(ctx, p.AccountID, in.IdempotencyKey, opSubmitRequest, hash)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				return s.replayRequest(ctx, rec)
			}
		}
		return nil, s.settlementFailed(opSubmitRequest, err,
			zap.String("from_id", p.AccountID), zap.String("to_id", payer.AccountID))
	}

	s.logger.Info("money request created",
		zap.String("request_id", req.RequestID),
		zap.String("from_id", req.FromAccountID),
		zap.String("to_id", req.ToAccountID),
		zap.Int64("amount", req.Amount))

	s.publish(ctx, at, []delivery{
		{payer.AccountID, notify.RequestEvent{
			Kind:      notify.NewRequest,
			RequestID: req.RequestID,
			Amount:    req.Amount,
			From:      p.Party(),
			Message:   req.Message,
			Timestamp: notify.Timestamp(at),
		}},
	})

	return &RequestResult{
		RequestID: req.RequestID,
		Status:    req.Status,
		Amount:    req.Amount,
		Recipient: payer.Party(),
		CreatedAt: at,
	}, nil
}

func (s *SettlementService) replayRequest(ctx context.Context, rec *domain.IdempotencyRecord) (*RequestResult, error) {
	req, err := s.ledger.Request(ctx, rec.ResultID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("load replayed request: %w", err))
	}
	return &RequestResult{
		RequestID: req.RequestID,
		Status:    req.Status,
		Amount:    req.Amount,
		Recipient: domain.Party{ID: req.ToAccountID, Email: req.ToEmail, Username: req.ToUsername},
		CreatedAt: req.CreatedAt,
		Replayed:  true,
	}, nil
}

// RespondToRequest lets the payer of a PENDING request accept or reject it.
// Both transitions are single-fire: the status guard is evaluated inside the
// same commit that moves the money.
func (s *SettlementService) RespondToRequest(ctx context.Context, p domain.Principal, requestID, action string) (res *RespondResult, err error) {
	defer func() { observe(opRespond, err) }()

	p, err = normalizePrincipal(p)
	if err != nil {
		return nil, err
	}
	act, err := domain.ParseAction(action)
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		return nil, domain.Invalid("request id is required")
	}

	req, err := s.ledger.Request(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("load request: %w", err))
	}
	if req.ToAccountID != p.AccountID {
		return nil, domain.ErrForbidden
	}
	switch {
	case req.Status.Terminal():
		return nil, domain.ErrAlreadyProcessed
	case req.Status != domain.StatusPending:
		return nil, domain.Wrap(domain.ErrInvalidRequestState, fmt.Errorf("unknown status %q", req.Status))
	}
	if err := domain.ValidateAmount(req.Amount, s.opts.Limits.MaxTransfer); err != nil {
		s.logger.Error("stored request amount out of range",
			zap.String("request_id", req.RequestID), zap.Int64("amount", req.Amount))
		return nil, domain.Wrap(domain.ErrInvalidRequestState, err)
	}

	if act == domain.ActionReject {
		return s.reject(ctx, p, req)
	}
	return s.accept(ctx, p, req)
}

func (s *SettlementService) reject(ctx context.Context, p domain.Principal, req *domain.MoneyRequest) (*RespondResult, error) {
	at := s.now()
	err := s.ledger.Commit(ctx, store.TransitionRequest{
		RequestID: req.RequestID,
		From:      domain.StatusPending,
		To:        domain.StatusRejected,
		UpdatedAt: at,
	})
	if err != nil {
		if _, ok := store.AsConditionFailed(err); ok {
			return nil, domain.ErrConcurrentModification
		}
		return nil, s.settlementFailed(opRespond, err, zap.String("request_id", req.RequestID))
	}

	s.logger.Info("money request rejected", zap.String("request_id", req.RequestID))

	s.publish(ctx, at, []delivery{
		{req.FromAccountID, notify.RequestEvent{
			Kind:      notify.RequestRejected,
			RequestID: req.RequestID,
			Amount:    req.Amount,
			From:      p.Party(),
			Timestamp: notify.Timestamp(at),
		}},
	})
	return &RespondResult{RequestID: req.RequestID, Status: domain.StatusRejected}, nil
}

func (s *SettlementService) accept(ctx context.Context, p domain.Principal, req *domain.MoneyRequest) (*RespondResult, error) {
	// Advisory only; the conditioned debit below is authoritative.
	balance, err := s.ledger.Balance(ctx, p.AccountID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSettlementFailed, fmt.Errorf("read balance: %w", err))
	}
	if balance < req.Amount {
		return nil, domain.ErrInsufficientBalance
	}

	at := s.now()
	txID := s.opts.NewID()
	requester := domain.Party{ID: req.FromAccountID, Email: req.FromEmail, Username: req.FromUsername}
	err = s.ledger.Commit(ctx,
		store.Debit{AccountID: p.AccountID, Amount: req.Amount},
		store.Credit{AccountID: req.FromAccountID, Amount: req.Amount},
		store.AppendTransaction{Record: domain.TransactionRecord{
			AccountID:            p.AccountID,
			TransactionID:        txID,
			Amount:               -req.Amount,
			Timestamp:            at,
			CounterpartyID:       requester.ID,
			CounterpartyEmail:    requester.Email,
			CounterpartyUsername: requester.Username,
			Kind:                 domain.KindRequestPayment,
		}},
		store.AppendTransaction{Record: domain.TransactionRecord{
			AccountID:            req.FromAccountID,
			TransactionID:        txID,
			Amount:               req.Amount,
			Timestamp:            at,
			CounterpartyID:       p.AccountID,
			CounterpartyEmail:    p.Email,
			CounterpartyUsername: p.Username,
			Kind:                 domain.KindRequestReceived,
		}},
		store.TransitionRequest{
			RequestID:     req.RequestID,
			From:          domain.StatusPending,
			To:            domain.StatusAccepted,
			TransactionID: txID,
			UpdatedAt:     at,
		},
	)
	if err != nil {
		if cf, ok := store.AsConditionFailed(err); ok {
			if cf.Index == 0 && cf.Condition == store.ConditionInsufficientBalance {
				return nil, domain.ErrInsufficientBalance
			}
			return nil, domain.ErrConcurrentModification
		}
		return nil, s.settlementFailed(opRespond, err, zap.String("request_id", req.RequestID))
	}

	s.logger.Info("money request accepted",
		zap.String("request_id", req.RequestID),
		zap.String("transaction_id", txID),
		zap.Int64("amount", req.Amount))

	s.publish(ctx, at, []delivery{
		{req.FromAccountID, notify.RequestEvent{
			Kind:          notify.RequestAccepted,
			RequestID:     req.RequestID,
			Amount:        req.Amount,
			From:          p.Party(),
			TransactionID: txID,
			Timestamp:     notify.Timestamp(at),
		}},
		{req.FromAccountID, notify.TransactionEvent{
			Direction:     notify.Received,
			Amount:        req.Amount,
			Counterparty:  p.Party(),
			TransactionID: txID,
			Timestamp:     notify.Timestamp(at),
			Source:        notify.SourceRequest,
		}},
		{p.AccountID, notify.TransactionEvent{
			Direction:     notify.Sent,
			Amount:        req.Amount,
			Counterparty:  requester,
			TransactionID: txID,
			Timestamp:     notify.Timestamp(at),
			Source:        notify.SourceRequest,
		}},
	}, p.AccountID, req.FromAccountID)

	return &RespondResult{RequestID: req.RequestID, Status: domain.StatusAccepted, TransactionID: txID}, nil
}
