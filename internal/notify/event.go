package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// EventType is the envelope discriminator seen by clients.
type EventType string

const (
	TypeTransaction   EventType = "TRANSACTION"
	TypeRequest       EventType = "REQUEST"
	TypeBalanceUpdate EventType = "BALANCE_UPDATE"
)

// Event is one of TransactionEvent, RequestEvent or BalanceEvent.
type Event interface {
	Type() EventType
	event()
}

// Direction is the owning account's side of a movement.
type Direction string

const (
	Sent     Direction = "SENT"
	Received Direction = "RECEIVED"
)

// Source says which operation produced a movement.
type Source string

const (
	SourceTransfer Source = "TRANSFER"
	SourceRequest  Source = "REQUEST"
)

// RequestEventKind is the lifecycle step a RequestEvent announces.
type RequestEventKind string

const (
	NewRequest      RequestEventKind = "NEW_REQUEST"
	RequestAccepted RequestEventKind = "ACCEPTED"
	RequestRejected RequestEventKind = "REJECTED"
)

// Timestamp marshals as ISO-8601 UTC with millisecond precision.
type Timestamp time.Time

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t the way every payload does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatTime(time.Time(t)))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

type TransactionEvent struct {
	Direction     Direction    `json:"type"`
	Amount        int64        `json:"amount"`
	Counterparty  domain.Party `json:"counterparty"`
	TransactionID string       `json:"transactionId"`
	Timestamp     Timestamp    `json:"timestamp"`
	Source        Source       `json:"source"`
}

type RequestEvent struct {
	Kind          RequestEventKind `json:"type"`
	RequestID     string           `json:"requestId"`
	Amount        int64            `json:"amount"`
	From          domain.Party     `json:"from"`
	Message       string           `json:"message,omitempty"`
	TransactionID string           `json:"transactionId,omitempty"`
	Timestamp     Timestamp        `json:"timestamp"`
}

type BalanceEvent struct {
	Balance int64 `json:"balance"`
}

func (TransactionEvent) Type() EventType { return TypeTransaction }
func (RequestEvent) Type() EventType     { return TypeRequest }
func (BalanceEvent) Type() EventType     { return TypeBalanceUpdate }

func (TransactionEvent) event() {}
func (RequestEvent) event()     {}
func (BalanceEvent) event()     {}

// Envelope is the stable wire shape of every notification.
type Envelope struct {
	Type      EventType `json:"type"`
	Data      Event     `json:"data"`
	Timestamp Timestamp `json:"timestamp"`
}

// Encode wraps ev in its envelope stamped with at.
func Encode(ev Event, at time.Time) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	return json.Marshal(Envelope{Type: ev.Type(), Data: ev, Timestamp: Timestamp(at)})
}

// Decode parses an envelope back into its concrete event.
func Decode(b []byte) (Event, time.Time, error) {
	var raw struct {
		Type      EventType       `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp Timestamp       `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, time.Time{}, err
	}

	var ev Event
	switch raw.Type {
	case TypeTransaction:
		var e TransactionEvent
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return nil, time.Time{}, err
		}
		ev = e
	case TypeRequest:
		var e RequestEvent
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return nil, time.Time{}, err
		}
		ev = e
	case TypeBalanceUpdate:
		var e BalanceEvent
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return nil, time.Time{}, err
		}
		ev = e
	default:
		return nil, time.Time{}, fmt.Errorf("unknown event type %q", raw.Type)
	}
	return ev, time.Time(raw.Timestamp), nil
}
