// Package realtime is the websocket transport for notifications. Each open
// socket is a channel; opening binds it to the caller's account in the
// connection registry and closing unbinds it.
//
// Delivery is node-local. Channel ids carry the id of the node holding the
// socket, and Send refuses another node's channel with ErrForeignChannel.
// With a shared Redis registry and several nodes, an account connected only
// to other nodes is not notified by this one; the binding is kept and left
// to expire by TTL. Notifications are best-effort and clients read balances
// and history through the API after reconnecting.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/paysettle/internal/notify"
	"go.uber.org/zap"
)

// ErrForeignChannel means the channel lives on another node. It is not a
// sign the channel is dead.
var ErrForeignChannel = errors.New("channel is owned by another node")

var activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "paysettle_websocket_connections",
	Help: "Open websocket channels on this node",
})

const (
	writeTimeout  = 10 * time.Second
	unbindTimeout = 5 * time.Second
	maxInbound    = 4096
)

// Binder is the part of the connection registry the hub drives.
type Binder interface {
	Bind(ctx context.Context, channelID, accountID string) error
	Unbind(ctx context.Context, channelID string) error
}

type conn struct {
	ws        *websocket.Conn
	accountID string

	mu sync.Mutex // serializes writes
}

func (c *conn) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

type Hub struct {
	nodeID   string
	binder   Binder
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

var _ notify.Transport = (*Hub)(nil)

func NewHub(nodeID string, binder Binder, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		nodeID: nodeID,
		binder: binder,
		logger: logger.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the gateway in front of us.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

// Serve upgrades the request and runs the socket until the client leaves.
// The upgrader has already answered the client when an upgrade error is returned.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, accountID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	ws.SetReadLimit(maxInbound)

	channelID := h.nodeID + ":" + uuid.NewString()
	c := &conn{ws: ws, accountID: accountID}

	h.mu.Lock()
	h.conns[channelID] = c
	h.mu.Unlock()

	defer h.drop(r.Context(), channelID, c)

	if err := h.binder.Bind(r.Context(), channelID, accountID); err != nil {
		h.logger.Error("bind failed", zap.String("channel_id", channelID), zap.Error(err))
		return fmt.Errorf("bind channel: %w", err)
	}
	activeConnections.Inc()
	defer activeConnections.Dec()

	h.logger.Info("channel opened", zap.String("channel_id", channelID), zap.String("account_id", accountID))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("channel read ended", zap.String("channel_id", channelID), zap.Error(err))
			}
			return nil
		}
		h.handleInbound(r.Context(), channelID, c, data)
	}
}

type inbound struct {
	Action string `json:"action"`
}

type pong struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

func (h *Hub) handleInbound(ctx context.Context, channelID string, c *conn, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("ignoring malformed frame", zap.String("channel_id", channelID))
		return
	}
	if msg.Action != "ping" {
		return
	}
	b, _ := json.Marshal(pong{Action: "pong", Timestamp: notify.FormatTime(time.Now())})
	if err := c.write(ctx, b); err != nil {
		h.logger.Debug("pong failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// drop forgets the channel locally and in the registry.
func (h *Hub) drop(ctx context.Context, channelID string, c *conn) {
	h.mu.Lock()
	if h.conns[channelID] == c {
		delete(h.conns, channelID)
	}
	h.mu.Unlock()
	_ = c.ws.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unbindTimeout)
	defer cancel()
	if err := h.binder.Unbind(ctx, channelID); err != nil {
		h.logger.Warn("unbind failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	h.logger.Info("channel closed", zap.String("channel_id", channelID), zap.String("account_id", c.accountID))
}

// Send writes payload to a local channel. A channel this node does not hold,
// or one whose write fails, is reported as notify.ErrChannelGone.
func (h *Hub) Send(ctx context.Context, channelID string, payload []byte) error {
	if !strings.HasPrefix(channelID, h.nodeID+":") {
		return fmt.Errorf("%w: %s", ErrForeignChannel, channelID)
	}
	h.mu.RLock()
	c := h.conns[channelID]
	h.mu.RUnlock()
	if c == nil {
		return notify.ErrChannelGone
	}
	if err := c.write(ctx, payload); err != nil {
		// The read loop sees the close and unbinds.
		_ = c.ws.Close()
		return fmt.Errorf("%w: %v", notify.ErrChannelGone, err)
	}
	return nil
}

// Connections reports how many channels this node holds.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close tells every client the server is going away. Their read loops then
// unbind the channels.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.ws.Close()
	}
}
