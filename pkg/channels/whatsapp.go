package channels

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/umflabs/wabridge/pkg/logger"
	"github.com/umflabs/wabridge/pkg/media"
	"github.com/umflabs/wabridge/pkg/normalize"
	"github.com/umflabs/wabridge/pkg/status"
)

// InboundHandler receives each accepted direct message. Handlers run on
// their own goroutine so a slow gateway call never blocks receipt of
// subsequent transport events.
type InboundHandler func(ctx context.Context, in normalize.Inbound)

// LifecycleHook observes connection lifecycle events (qr, connected,
// disconnected, logged-out, gave-up) for outward-facing surfaces.
type LifecycleHook func(event string, fields map[string]interface{})

// WhatsAppChannel owns the single WhatsApp Web session: credential
// store, QR pairing, reconnect supervision and message dispatch. The
// session handle is never exposed outside this type.
type WhatsAppChannel struct {
	client     *whatsmeow.Client
	machine    *Machine
	record     *status.Record
	mediaStore *media.Store
	handler    InboundHandler
	lifecycle  LifecycleHook
	connected  func() bool

	mu             sync.Mutex
	ctx            context.Context
	reconnectTimer *time.Timer
	halted         bool
}

// NewWhatsAppChannel opens (or creates) the on-disk session store at
// dbPath and prepares a client. No connection is made until Start.
func NewWhatsAppChannel(dbPath string, machine *Machine, record *status.Record, mediaStore *media.Store, handler InboundHandler) (*WhatsAppChannel, error) {
	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(context.Background(), "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		if err == sql.ErrNoRows {
			deviceStore = container.NewDevice()
		} else {
			return nil, fmt.Errorf("load device: %w", err)
		}
	}

	clientLog := waLog.Stdout("Client", "WARN", true)
	c := &WhatsAppChannel{
		client:     whatsmeow.NewClient(deviceStore, clientLog),
		machine:    machine,
		record:     record,
		mediaStore: mediaStore,
		handler:    handler,
	}
	// The state machine is the sole reconnect owner; the library's own
	// auto-reconnect would race the scheduled attempts and feed
	// ErrAlreadyConnected back in as close events.
	c.client.EnableAutoReconnect = false
	c.connected = c.client.IsConnected
	c.client.AddEventHandler(c.handleEvent)
	return c, nil
}

// SetLifecycleHook must be called before Start.
func (c *WhatsAppChannel) SetLifecycleHook(hook LifecycleHook) {
	c.lifecycle = hook
}

// Start connects the session. When no credentials exist yet it runs the
// QR pairing flow; the pairing code reaches the operator via terminal
// output and the status record.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if c.client.Store.ID == nil {
		logger.InfoC("whatsapp", "No stored session, starting QR pairing")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open QR channel: %w", err)
		}
		go c.consumeQR(qrChan)
	} else {
		logger.InfoCF("whatsapp", "Reusing stored session", map[string]interface{}{
			"jid": c.client.Store.ID.String(),
		})
	}

	c.dispatch(ConnectStarted{})
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Stop tears the session down for shutdown. The credential store stays
// intact so the next start reconnects without pairing.
func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.halted = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.client.Disconnect()
	c.record.SetReady(false)
	c.record.SetConnState(StateDisconnected.String())
	return nil
}

// Send delivers a plain text message to a JID. Failures are logged and
// returned; callers must treat them as per-message, never fatal.
func (c *WhatsAppChannel) Send(ctx context.Context, toJID, text string) error {
	jid, err := types.ParseJID(toJID)
	if err != nil {
		logger.ErrorCF("whatsapp", "Invalid recipient JID", map[string]interface{}{
			"jid":   toJID,
			"error": err.Error(),
		})
		return fmt.Errorf("parse recipient %q: %w", toJID, err)
	}

	_, err = c.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		logger.ErrorCF("whatsapp", "Send failed", map[string]interface{}{
			"jid":   toJID,
			"error": err.Error(),
		})
		return fmt.Errorf("send to %s: %w", toJID, err)
	}

	c.record.IncSent()
	return nil
}

func (c *WhatsAppChannel) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.dispatch(QRCode{Code: item.Code})
		case "success":
			// The Connected event carries the open transition.
			logger.InfoC("whatsapp", "QR pairing successful")
		case "timeout":
			logger.WarnC("whatsapp", "QR pairing timed out, restart to retry")
		}
	}
}

// handleEvent translates transport callbacks into typed state-machine
// events and executes the resulting commands.
func (c *WhatsAppChannel) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		self := ""
		if c.client.Store.ID != nil {
			self = c.client.Store.ID.ToNonAD().String()
		}
		c.dispatch(Opened{SelfJID: self})

	case *events.LoggedOut:
		c.dispatch(Closed{LoggedOut: true, Reason: "logged out"})

	case *events.StreamReplaced:
		c.dispatch(Closed{Reason: "stream replaced by another client"})

	case *events.ConnectFailure:
		c.dispatch(Closed{Reason: fmt.Sprintf("connect failure: %v", e.Reason)})

	case *events.Disconnected:
		c.dispatch(Closed{Reason: "transport closed"})

	case *events.Message:
		c.handleMessage(e)
	}
}

func (c *WhatsAppChannel) dispatch(ev Event) {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return
	}
	cmds := c.machine.Apply(ev)
	state := c.machine.State
	c.mu.Unlock()

	c.record.SetConnState(state.String())

	for _, cmd := range cmds {
		c.execute(cmd)
	}
}

func (c *WhatsAppChannel) execute(cmd Command) {
	switch cm := cmd.(type) {
	case RenderQR:
		logger.InfoC("whatsapp", "Scan the QR code below with the WhatsApp mobile app")
		qrterminal.GenerateHalfBlock(cm.Code, qrterminal.L, os.Stdout)
		c.record.SetQR(cm.Code)
		c.notifyLifecycle("qr", map[string]interface{}{"code": cm.Code})

	case MarkReady:
		c.mu.Lock()
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		c.mu.Unlock()
		c.record.SetQR("")
		c.record.SetReady(true)
		if cm.SelfJID != "" {
			c.record.SetSelfJID(cm.SelfJID)
		}
		logger.InfoCF("whatsapp", "Session open", map[string]interface{}{
			"jid": cm.SelfJID,
		})
		c.notifyLifecycle("connected", map[string]interface{}{"jid": cm.SelfJID})

	case ScheduleReconnect:
		c.record.SetReady(false)
		logger.WarnCF("whatsapp", "Connection lost, reconnecting", map[string]interface{}{
			"attempt": cm.Attempt,
			"delay":   cm.Delay.String(),
		})
		c.notifyLifecycle("disconnected", map[string]interface{}{"attempt": cm.Attempt})
		c.armReconnect(cm.Delay)

	case GiveUp:
		c.record.SetReady(false)
		logger.ErrorCF("whatsapp", "Reconnect attempts exhausted, staying disconnected", map[string]interface{}{
			"reason": cm.Reason,
		})
		c.notifyLifecycle("gave-up", map[string]interface{}{"reason": cm.Reason})

	case Halt:
		c.record.SetReady(false)
		c.mu.Lock()
		c.halted = true
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		c.mu.Unlock()
		logger.ErrorC("whatsapp", "Device logged out; delete the session directory and restart to re-pair")
		c.notifyLifecycle("logged-out", nil)
	}
}

// armReconnect replaces any pending timer; a newer connection event
// supersedes an in-flight attempt.
func (c *WhatsAppChannel) armReconnect(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
}

// reconnect fires when a scheduled delay elapses. A session that came
// back up in the meantime makes the attempt a no-op; the Connected
// event already corrected the state.
func (c *WhatsAppChannel) reconnect() {
	if c.connected != nil && c.connected() {
		logger.DebugC("whatsapp", "Skipping reconnect attempt, session already open")
		return
	}
	c.dispatch(ConnectStarted{})
	if err := c.client.Connect(); err != nil {
		c.dispatch(Closed{Reason: fmt.Sprintf("reconnect dial: %v", err)})
	}
}

// handleMessage filters transport events down to direct one-to-one
// messages with content, extracts the best-effort text body and hands
// the result to the pipeline.
func (c *WhatsAppChannel) handleMessage(evt *events.Message) {
	info := evt.Info

	if !acceptsMessage(&info) {
		return
	}

	text := extractText(evt.Message)
	mediaPath := c.captureMedia(evt)
	if text == "" {
		if mediaPath == "" {
			return
		}
		text = "[image]"
	}

	c.record.IncReceived()

	sender := info.Sender.ToNonAD().String()
	logger.DebugCF("whatsapp", "Received message", map[string]interface{}{
		"sender":     sender,
		"message_id": info.ID,
	})

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	in := normalize.Inbound{
		Text:      text,
		SenderJID: sender,
		MessageID: info.ID,
		Timestamp: info.Timestamp,
		MediaPath: mediaPath,
	}
	go c.handler(ctx, in)
}

// acceptsMessage keeps only direct one-to-one traffic: no self-echo,
// no groups, no broadcast/status or newsletter chats.
func acceptsMessage(info *types.MessageInfo) bool {
	if info.IsFromMe {
		return false
	}
	if info.IsGroup || info.Chat.Server == types.GroupServer {
		return false
	}
	if info.Chat.Server == types.BroadcastServer || info.Chat.Server == types.NewsletterServer {
		return false
	}
	return true
}

// extractText picks the best-effort body: plain conversation, extended
// text, then image or video caption.
func extractText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil && img.GetCaption() != "" {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil && vid.GetCaption() != "" {
		return vid.GetCaption()
	}
	return ""
}

// captureMedia downloads inbound image bytes into the media store.
// Failures degrade to caption-only handling.
func (c *WhatsAppChannel) captureMedia(evt *events.Message) string {
	if c.mediaStore == nil {
		return ""
	}
	img := evt.Message.GetImageMessage()
	if img == nil {
		return ""
	}

	data, err := c.client.Download(context.Background(), img)
	if err != nil {
		logger.WarnCF("whatsapp", "Media download failed", map[string]interface{}{
			"message_id": evt.Info.ID,
			"error":      err.Error(),
		})
		return ""
	}

	rec, err := c.mediaStore.Save(evt.Info.Chat.String(), evt.Info.ID, img.GetMimetype(), data)
	if err != nil {
		logger.WarnCF("whatsapp", "Media store failed", map[string]interface{}{
			"message_id": evt.Info.ID,
			"error":      err.Error(),
		})
		return ""
	}
	return rec.StoredPath
}

func (c *WhatsAppChannel) notifyLifecycle(event string, fields map[string]interface{}) {
	if c.lifecycle != nil {
		c.lifecycle(event, fields)
	}
}
