package service

import (
	"context"
	"strconv"
	"time"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"github.com/punchamoorthee/paysettle/internal/store"
	"go.uber.org/zap"
)

const opTransfer = "transfer"

type TransferInput struct {
	RecipientEmail string
	Amount         int64
	IdempotencyKey string
}

type TransferResult struct {
	TransactionID string       `json:"transaction_id"`
	Amount        int64        `json:"amount"`
	Recipient     domain.Party `json:"recipient"`
	Timestamp     time.Time    `json:"timestamp"`
	Replayed      bool         `json:"replayed,omitempty"`
}

// Transfer moves in.Amount from the caller to the owner of in.RecipientEmail
// in a single conditioned commit.
func (s *SettlementService) Transfer(ctx context.Context, p domain.Principal, in TransferInput) (res *TransferResult, err error) {
	defer func() { observe(opTransfer, err) }()

	// 1. Validation, before any store interaction
	p, err = normalizePrincipal(p)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(in.Amount, s.opts.Limits.MaxTransfer); err != nil {
		return nil, err
	}
	recipient, err := s.resolveCounterparty(ctx, p, in.RecipientEmail, domain.ErrSelfTransfer)
	if err != nil {
		return nil, err
	}

	// 2. Idempotency check
	hash := requestHash(opTransfer, recipient.AccountID, strconv.FormatInt(in.Amount, 10))
	if in.IdempotencyKey != "" {
		rec, err := s.claimed(ctx, p.AccountID, in.IdempotencyKey, opTransfer, hash)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return replayTransfer(rec, in.Amount, recipient), nil
		}
	}

	// 3. One atomic commit: debit, credit, both ledger legs, key reservation
	at := s.now()
	txID := s.opts.NewID()
	writes := []store.Write{
		store.Debit{AccountID: p.AccountID, Amount: in.Amount},
		store.Credit{AccountID: recipient.AccountID, Amount: in.Amount},
		store.AppendTransaction{Record: domain.TransactionRecord{
			AccountID:            p.AccountID,
			TransactionID:        txID,
			Amount:               -in.Amount,
			Timestamp:            at,
			CounterpartyID:       recipient.AccountID,
			CounterpartyEmail:    recipient.Email,
			CounterpartyUsername: recipient.Username,
			Kind:                 domain.KindTransferSent,
		}},
		store.AppendTransaction{Record: domain.TransactionRecord{
			AccountID:            recipient.AccountID,
			TransactionID:        txID,
			Amount:               in.Amount,
			Timestamp:            at,
			CounterpartyID:       p.AccountID,
			CounterpartyEmail:    p.Email,
			CounterpartyUsername: p.Username,
			Kind:                 domain.KindTransferReceived,
		}},
	}
	reserveAt := -1
	if in.IdempotencyKey != "" {
		reserveAt = len(writes)
		writes = append(writes, store.ReserveIdempotencyKey{Record: domain.IdempotencyRecord{
			AccountID:   p.AccountID,
			Key:         in.IdempotencyKey,
			Operation:   opTransfer,
			RequestHash: hash,
			ResultID:    txID,
			CreatedAt:   at,
		}})
	}

	if err := s.ledger.Commit(ctx, writes...); err != nil {
		if cf, ok := store.AsConditionFailed(err); ok {
			switch {
			case cf.Index == 0 && cf.Condition == store.ConditionInsufficientBalance:
				return nil, domain.ErrInsufficientBalance
			case cf.Index == reserveAt:
				// Lost a race with a concurrent retry under the same key.
				rec, err := s.claimed(ctx, p.AccountID, in.IdempotencyKey, opTransfer, hash)
				if err != nil {
					return nil, err
				}
				if rec != nil {
					return replayTransfer(rec, in.Amount, recipient), nil
				}
			}
		}
		return nil, s.settlementFailed(opTransfer, err,
			zap.String("sender_id", p.AccountID), zap.String("recipient_id", recipient.AccountID))
	}

	s.logger.Info("transfer settled",
		zap.String("transaction_id", txID),
		zap.String("sender_id", p.AccountID),
		zap.String("recipient_id", recipient.AccountID),
		zap.Int64("amount", in.Amount))

	// 4. Fan-out, detached from the result
	s.publish(ctx, at, []delivery{
		{recipient.AccountID, notify.TransactionEvent{
			Direction:     notify.Received,
			Amount:        in.Amount,
			Counterparty:  p.Party(),
			TransactionID: txID,
			Timestamp:     notify.Timestamp(at),
			Source:        notify.SourceTransfer,
		}},
		{p.AccountID, notify.TransactionEvent{
			Direction:     notify.Sent,
			Amount:        in.Amount,
			Counterparty:  recipient.Party(),
			TransactionID: txID,
			Timestamp:     notify.Timestamp(at),
			Source:        notify.SourceTransfer,
		}},
	}, p.AccountID, recipient.AccountID)

	return &TransferResult{
		TransactionID: txID,
		Amount:        in.Amount,
		Recipient:     recipient.Party(),
		Timestamp:     at,
	}, nil
}

func replayTransfer(rec *domain.IdempotencyRecord, amount int64, recipient domain.Identity) *TransferResult {
	return &TransferResult{
		TransactionID: rec.ResultID,
		Amount:        amount,
		Recipient:     recipient.Party(),
		Timestamp:     rec.CreatedAt,
		Replayed:      true,
	}
}
