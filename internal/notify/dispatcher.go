// Package notify delivers settlement events to an account's live channels.
// Delivery is best effort: nothing here ever fails the operation that
// triggered it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrChannelGone is returned by a Transport when the channel will never
// accept another message.
var ErrChannelGone = errors.New("channel gone")

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paysettle_notification_deliveries_total",
	Help: "Notification delivery attempts, labeled by event type and outcome",
}, []string{"type", "outcome"})

// Transport sends raw bytes to one channel.
type Transport interface {
	Send(ctx context.Context, channelID string, payload []byte) error
}

// Routes is the part of the connection registry the dispatcher needs.
type Routes interface {
	ChannelsFor(ctx context.Context, accountID string) ([]string, error)
	Unbind(ctx context.Context, channelID string) error
}

type Dispatcher struct {
	routes    Routes
	transport Transport
	logger    *zap.Logger
}

func NewDispatcher(routes Routes, transport Transport, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{routes: routes, transport: transport, logger: logger.Named("notify")}
}

// Notify sends ev to every channel bound to accountID and waits for all
// attempts. Channels the transport reports gone are unbound; other failures
// are logged once. It never returns an error.
func (d *Dispatcher) Notify(ctx context.Context, accountID string, ev Event, at time.Time) {
	channels, err := d.routes.ChannelsFor(ctx, accountID)
	if err != nil {
		d.logger.Warn("channel lookup failed",
			zap.String("account_id", accountID), zap.String("code", string(domain.CodeNotificationDeliveryFailed)), zap.Error(err))
		return
	}
	if len(channels) == 0 {
		return
	}

	payload, err := Encode(ev, at)
	if err != nil {
		d.logger.Error("event encoding failed", zap.String("type", string(ev.Type())), zap.Error(err))
		return
	}

	var g errgroup.Group
	for _, channelID := range channels {
		channelID := channelID
		g.Go(func() error {
			d.deliver(ctx, accountID, channelID, ev.Type(), payload)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, accountID, channelID string, typ EventType, payload []byte) {
	err := d.transport.Send(ctx, channelID, payload)
	switch {
	case err == nil:
		deliveriesTotal.WithLabelValues(string(typ), "delivered").Inc()
	case errors.Is(err, ErrChannelGone):
		deliveriesTotal.WithLabelValues(string(typ), "gone").Inc()
		d.logger.Info("pruning dead channel", zap.String("account_id", accountID), zap.String("channel_id", channelID))
		if err := d.routes.Unbind(ctx, channelID); err != nil {
			d.logger.Warn("unbind failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	default:
		deliveriesTotal.WithLabelValues(string(typ), "failed").Inc()
		d.logger.Warn("notification delivery failed",
			zap.String("account_id", accountID),
			zap.String("channel_id", channelID),
			zap.String("code", string(domain.CodeNotificationDeliveryFailed)),
			zap.Error(err))
	}
}
