package domain

import (
	"strings"
	"time"
)

// Account represents a user's balance in the ledger.
type Account struct {
	ID      string `json:"account_id"`
	Balance int64  `json:"balance"`
}

// TransactionKind tags why a ledger record exists.
type TransactionKind string

const (
	KindTransferSent     TransactionKind = "TRANSFER_SENT"
	KindTransferReceived TransactionKind = "TRANSFER_RECEIVED"
	KindRequestPayment   TransactionKind = "REQUEST_PAYMENT"
	KindRequestReceived  TransactionKind = "REQUEST_RECEIVED"
)

// TransactionRecord represents one leg of a settled movement.
// The sum of Amounts for a given TransactionID must always equal 0.
type TransactionRecord struct {
	AccountID            string          `json:"account_id"`
	TransactionID        string          `json:"transaction_id"`
	Amount               int64           `json:"amount"`
	Timestamp            time.Time       `json:"timestamp"`
	CounterpartyID       string          `json:"counterparty_id"`
	CounterpartyEmail    string          `json:"counterparty_email"`
	CounterpartyUsername string          `json:"counterparty_username"`
	Kind                 TransactionKind `json:"kind"`
}

// RequestStatus is the lifecycle state of a MoneyRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusAccepted RequestStatus = "ACCEPTED"
	StatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Action is the payer's answer to a MoneyRequest.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionReject Action = "REJECT"
)

// ParseAction accepts ACCEPT or REJECT in any letter case.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", ErrInvalidAction
}

// MoneyRequest asks ToAccountID to pay FromAccountID.
// FromAccountID is the requester and eventual payee.
type MoneyRequest struct {
	RequestID     string        `json:"request_id"`
	FromAccountID string        `json:"from_account_id"`
	ToAccountID   string        `json:"to_account_id"`
	Amount        int64         `json:"amount"`
	Message       string        `json:"message"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	FromEmail     string        `json:"from_email"`
	ToEmail       string        `json:"to_email"`
	FromUsername  string        `json:"from_username"`
	ToUsername    string        `json:"to_username"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// Identity is what the identity provider knows about an account.
type Identity struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
}

// Principal is the already-authenticated caller. The gateway vouches for it.
type Principal Identity

// Party is an account as shown to the other side of a movement.
type Party struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Party returns the identity in its counterparty form.
func (i Identity) Party() Party {
	return Party{ID: i.AccountID, Email: i.Email, Username: i.Username}
}

// Party returns the principal in its counterparty form.
func (p Principal) Party() Party {
	return Identity(p).Party()
}

// NormalizeEmail lowercases and trims an address for comparison and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultUsername falls back to the local part of the email.
func DefaultUsername(username, email string) string {
	if u := strings.TrimSpace(username); u != "" {
		return u
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

// IdempotencyRecord remembers which settlement a client key produced.
type IdempotencyRecord struct {
	AccountID   string    `json:"account_id"`
	Key         string    `json:"key"`
	Operation   string    `json:"operation"`
	RequestHash string    `json:"request_hash"`
	ResultID    string    `json:"result_id"`
	CreatedAt   time.Time `json:"created_at"`
}
