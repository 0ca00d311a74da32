package channels

import (
	"fmt"
	"time"
)

// ConnState tracks the single WhatsApp Web session lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateQRPending
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateQRPending:
		return "qr-pending"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Event is a typed transport event fed into the machine. The transport
// callbacks translate library events into these; the machine itself
// never touches I/O.
type Event interface{ isEvent() }

// ConnectStarted marks the beginning of a dial, either at startup or
// after a reconnect delay fired.
type ConnectStarted struct{}

// QRCode carries a pairing code awaiting human scanning.
type QRCode struct{ Code string }

// Opened marks a fully established, authenticated session.
type Opened struct{ SelfJID string }

// Closed is any transport-level close. LoggedOut means the remote side
// explicitly invalidated the session; everything else is recoverable.
type Closed struct {
	LoggedOut bool
	Reason    string
}

func (ConnectStarted) isEvent() {}
func (QRCode) isEvent()         {}
func (Opened) isEvent()         {}
func (Closed) isEvent()         {}

// Command is a side effect the caller must perform after a transition.
type Command interface{ isCommand() }

// RenderQR presents the pairing code to a human.
type RenderQR struct{ Code string }

// MarkReady flips the daemon readiness flag.
type MarkReady struct{ SelfJID string }

// ScheduleReconnect arms a timer for the given attempt. A newer
// connection event supersedes any in-flight timer.
type ScheduleReconnect struct {
	Attempt int
	Delay   time.Duration
}

// GiveUp means the attempt budget is exhausted: log an error and stay
// disconnected until an external restart.
type GiveUp struct{ Reason string }

// Halt means an intentional logout: no reconnection until a human
// deletes the stored credentials and restarts.
type Halt struct{ Reason string }

func (RenderQR) isCommand()          {}
func (MarkReady) isCommand()         {}
func (ScheduleReconnect) isCommand() {}
func (GiveUp) isCommand()            {}
func (Halt) isCommand()              {}

// Machine is the pure connection state machine. It owns the state value
// and the reconnect attempt counter; callers execute the returned
// commands.
type Machine struct {
	State    ConnState
	Attempts int

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func NewMachine(baseDelay, maxDelay time.Duration, maxAttempts int) *Machine {
	return &Machine{
		State:       StateDisconnected,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		MaxAttempts: maxAttempts,
	}
}

// ReconnectDelay returns the backoff before attempt k (1-based):
// min(base * 2^(k-1), max).
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Apply transitions the machine on one event and returns the side
// effects to execute.
func (m *Machine) Apply(ev Event) []Command {
	switch e := ev.(type) {
	case ConnectStarted:
		m.State = StateConnecting
		return nil

	case QRCode:
		m.State = StateQRPending
		m.Attempts = 0
		return []Command{RenderQR{Code: e.Code}}

	case Opened:
		m.State = StateOpen
		m.Attempts = 0
		return []Command{MarkReady{SelfJID: e.SelfJID}}

	case Closed:
		m.State = StateDisconnected
		if e.LoggedOut {
			return []Command{Halt{Reason: e.Reason}}
		}
		if m.Attempts >= m.MaxAttempts {
			return []Command{GiveUp{Reason: fmt.Sprintf("gave up after %d attempts (last close: %s)", m.Attempts, e.Reason)}}
		}
		m.Attempts++
		return []Command{ScheduleReconnect{
			Attempt: m.Attempts,
			Delay:   ReconnectDelay(m.Attempts, m.BaseDelay, m.MaxDelay),
		}}
	}
	return nil
}
