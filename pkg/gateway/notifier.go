package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/umflabs/wabridge/pkg/logger"
	"github.com/umflabs/wabridge/pkg/umf"
)

// Notifier pushes lifecycle notifications (qr, connected, disconnected,
// gave-up) to the gateway over WebSocket. Strictly best-effort: a dead
// or absent gateway costs one debug log line and nothing else.
type Notifier struct {
	url     string
	channel string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewNotifier returns nil when url is empty; callers treat a nil
// notifier as disabled.
func NewNotifier(url, channel string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{url: url, channel: channel}
}

// Notify sends one UMF notification envelope. Safe on a nil receiver.
func (n *Notifier) Notify(event string, fields map[string]interface{}) {
	if n == nil {
		return
	}

	env := umf.New(umf.TypeNotification)
	env.Source = &umf.Address{AgentID: "bridge", ChannelID: n.channel}
	env.Content = []umf.ContentBlock{{Type: umf.ContentText, Data: event}}
	env.Metadata["event"] = event
	for k, v := range fields {
		env.Metadata[k] = v
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil && !n.dialLocked() {
		return
	}

	n.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := n.conn.WriteJSON(env); err != nil {
		// One reconnect attempt per notification, then give up on it.
		n.dropLocked()
		if !n.dialLocked() {
			return
		}
		n.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := n.conn.WriteJSON(env); err != nil {
			logger.DebugCF("gateway", "WS notification dropped", map[string]interface{}{
				"event": event,
				"error": err.Error(),
			})
			n.dropLocked()
		}
	}
}

func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropLocked()
}

func (n *Notifier) dialLocked() bool {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(n.url, nil)
	if err != nil {
		logger.DebugCF("gateway", "WS feed unavailable", map[string]interface{}{
			"url":   n.url,
			"error": err.Error(),
		})
		return false
	}
	n.conn = conn
	return true
}

func (n *Notifier) dropLocked() {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}
