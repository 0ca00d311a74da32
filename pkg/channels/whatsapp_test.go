package channels

import (
	"testing"
	"time"

	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/umflabs/wabridge/pkg/status"
)

func directInfo(user string) types.MessageInfo {
	return types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:   types.NewJID(user, types.DefaultUserServer),
			Sender: types.NewJID(user, types.DefaultUserServer),
		},
	}
}

func TestAcceptsMessage(t *testing.T) {
	direct := directInfo("18625206066")
	if !acceptsMessage(&direct) {
		t.Error("direct one-to-one message should be accepted")
	}

	fromMe := directInfo("18625206066")
	fromMe.IsFromMe = true
	if acceptsMessage(&fromMe) {
		t.Error("own messages must be suppressed")
	}

	group := types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:    types.NewJID("12345-67890", types.GroupServer),
			Sender:  types.NewJID("18625206066", types.DefaultUserServer),
			IsGroup: true,
		},
	}
	if acceptsMessage(&group) {
		t.Error("group messages must be filtered")
	}

	statusBroadcast := types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:   types.NewJID("status", types.BroadcastServer),
			Sender: types.NewJID("18625206066", types.DefaultUserServer),
		},
	}
	if acceptsMessage(&statusBroadcast) {
		t.Error("status broadcast messages must be filtered")
	}

	newsletter := types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:   types.NewJID("123456", types.NewsletterServer),
			Sender: types.NewJID("18625206066", types.DefaultUserServer),
		},
	}
	if acceptsMessage(&newsletter) {
		t.Error("newsletter messages must be filtered")
	}
}

func TestReconnectSkippedWhenSessionAlreadyOpen(t *testing.T) {
	m := NewMachine(2*time.Second, time.Minute, 5)
	m.State = StateOpen
	c := &WhatsAppChannel{
		machine:   m,
		record:    status.NewRecord("+15550001111", "http://127.0.0.1:18790/umf"),
		connected: func() bool { return true },
	}

	// The close event recovered on its own before the timer fired; the
	// attempt must not dial and must not disturb the open session state.
	c.reconnect()

	if m.State != StateOpen {
		t.Errorf("state = %s, want open", m.State)
	}
	if m.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", m.Attempts)
	}
	if c.record.Snapshot().ConnState != "disconnected" {
		// NewRecord starts at "disconnected"; a skipped attempt must not
		// have written anything.
		t.Errorf("record state = %s, reconnect should not touch the record", c.record.Snapshot().ConnState)
	}
}

func TestPendingReconnectCancelledOnOpen(t *testing.T) {
	c := &WhatsAppChannel{
		machine: NewMachine(2*time.Second, time.Minute, 5),
		record:  status.NewRecord("+15550001111", "http://127.0.0.1:18790/umf"),
	}
	c.reconnectTimer = time.AfterFunc(time.Hour, func() {})

	c.execute(MarkReady{SelfJID: "15550001111@s.whatsapp.net"})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		t.Error("pending reconnect timer should be dropped once the session is open")
	}
}

func TestExtractTextPriority(t *testing.T) {
	tests := []struct {
		name string
		msg  *waProto.Message
		want string
	}{
		{
			name: "nil message",
			msg:  nil,
			want: "",
		},
		{
			name: "plain conversation",
			msg:  &waProto.Message{Conversation: proto.String("hello")},
			want: "hello",
		},
		{
			name: "conversation wins over extended text",
			msg: &waProto.Message{
				Conversation:        proto.String("plain"),
				ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("extended")},
			},
			want: "plain",
		},
		{
			name: "extended text",
			msg: &waProto.Message{
				ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("extended")},
			},
			want: "extended",
		},
		{
			name: "image caption",
			msg: &waProto.Message{
				ImageMessage: &waProto.ImageMessage{Caption: proto.String("look at this")},
			},
			want: "look at this",
		},
		{
			name: "video caption",
			msg: &waProto.Message{
				VideoMessage: &waProto.VideoMessage{Caption: proto.String("watch this")},
			},
			want: "watch this",
		},
		{
			name: "no usable body",
			msg:  &waProto.Message{ImageMessage: &waProto.ImageMessage{}},
			want: "",
		},
	}
	for _, tt := range tests {
		if got := extractText(tt.msg); got != tt.want {
			t.Errorf("%s: extractText = %q, want %q", tt.name, got, tt.want)
		}
	}
}
