// Package notifytest provides an in-memory notify.Transport for tests.
package notifytest

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/paysettle/internal/notify"
)

// Message is one payload the Recorder accepted.
type Message struct {
	ChannelID string
	Event     notify.Event
	At        time.Time
	Raw       []byte
}

// Recorder accepts every send unless a failure is scripted for the channel.
type Recorder struct {
	mu       sync.Mutex
	failures map[string]error
	messages []Message
	attempts map[string]int
}

func NewRecorder() *Recorder {
	return &Recorder{failures: make(map[string]error), attempts: make(map[string]int)}
}

// FailWith makes every send to channelID return err.
func (r *Recorder) FailWith(channelID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[channelID] = err
}

func (r *Recorder) Send(_ context.Context, channelID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[channelID]++
	if err := r.failures[channelID]; err != nil {
		return err
	}
	ev, at, err := notify.Decode(payload)
	if err != nil {
		return err
	}
	r.messages = append(r.messages, Message{ChannelID: channelID, Event: ev, At: at, Raw: append([]byte(nil), payload...)})
	return nil
}

// Messages returns what was delivered, optionally filtered to one channel.
func (r *Recorder) Messages(channelID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if channelID == "" || m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

// Attempts counts sends to channelID, failed ones included.
func (r *Recorder) Attempts(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[channelID]
}
