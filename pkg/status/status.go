package status

import (
	"sync"
	"time"
)

// Record is the daemon's process-lifetime status aggregate. It is
// created once at startup, handed to the components that mutate it, and
// never persisted; every process start begins from zero.
type Record struct {
	mu sync.RWMutex

	running       bool
	ready         bool
	servicePhone  string
	selfJID       string
	gatewayURL    string
	connState     string
	qrCode        string
	startedAt     time.Time
	uptimeSeconds int64
	received      int64
	forwarded     int64
	sent          int64
	lastMessageAt time.Time
}

// Snapshot is the read-only JSON view served by the status surface.
type Snapshot struct {
	Running       bool   `json:"running"`
	Ready         bool   `json:"ready"`
	ServicePhone  string `json:"service_phone"`
	SelfJID       string `json:"self_jid,omitempty"`
	GatewayURL    string `json:"gateway_url"`
	ConnState     string `json:"connection_state"`
	QRPending     bool   `json:"qr_pending"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Received      int64  `json:"messages_received"`
	Forwarded     int64  `json:"messages_forwarded"`
	Sent          int64  `json:"messages_sent"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

func NewRecord(servicePhone, gatewayURL string) *Record {
	return &Record{
		servicePhone: servicePhone,
		gatewayURL:   gatewayURL,
		connState:    "disconnected",
		startedAt:    time.Now(),
	}
}

func (r *Record) SetRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.mu.Unlock()
}

func (r *Record) SetReady(v bool) {
	r.mu.Lock()
	r.ready = v
	r.mu.Unlock()
}

func (r *Record) SetSelfJID(jid string) {
	r.mu.Lock()
	r.selfJID = jid
	r.mu.Unlock()
}

func (r *Record) SetConnState(state string) {
	r.mu.Lock()
	r.connState = state
	r.mu.Unlock()
}

// SetQR stores the current pairing code; empty clears it.
func (r *Record) SetQR(code string) {
	r.mu.Lock()
	r.qrCode = code
	r.mu.Unlock()
}

func (r *Record) QR() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.qrCode
}

// Tick advances the uptime counter, called once per second by the
// daemon shell.
func (r *Record) Tick() {
	r.mu.Lock()
	r.uptimeSeconds++
	r.mu.Unlock()
}

func (r *Record) IncReceived() {
	r.mu.Lock()
	r.received++
	r.lastMessageAt = time.Now()
	r.mu.Unlock()
}

func (r *Record) IncForwarded() {
	r.mu.Lock()
	r.forwarded++
	r.mu.Unlock()
}

func (r *Record) IncSent() {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		Running:       r.running,
		Ready:         r.ready,
		ServicePhone:  r.servicePhone,
		SelfJID:       r.selfJID,
		GatewayURL:    r.gatewayURL,
		ConnState:     r.connState,
		QRPending:     r.qrCode != "",
		UptimeSeconds: r.uptimeSeconds,
		Received:      r.received,
		Forwarded:     r.forwarded,
		Sent:          r.sent,
	}
	if !r.lastMessageAt.IsZero() {
		s.LastMessageAt = r.lastMessageAt.UTC().Format(time.RFC3339)
	}
	return s
}
