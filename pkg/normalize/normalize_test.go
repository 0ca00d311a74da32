package normalize

import (
	"testing"
	"time"

	"github.com/umflabs/wabridge/pkg/umf"
)

func TestJIDToPhone(t *testing.T) {
	tests := []struct {
		jid  string
		want string
	}{
		{"18625206066@s.whatsapp.net", "+18625206066"},
		{"4915112345678@s.whatsapp.net", "+4915112345678"},
		{"12025550123", "+12025550123"},
		{"@s.whatsapp.net", "+"},
		{"", "+"},
	}
	for _, tt := range tests {
		if got := JIDToPhone(tt.jid); got != tt.want {
			t.Errorf("JIDToPhone(%q) = %q, want %q", tt.jid, got, tt.want)
		}
	}
}

func TestPhoneToJID(t *testing.T) {
	tests := []struct {
		phone string
		want  string
	}{
		{"+18625206066", "18625206066@s.whatsapp.net"},
		{"18625206066", "18625206066@s.whatsapp.net"},
		{"+1 (862) 520-6066", "18625206066@s.whatsapp.net"},
	}
	for _, tt := range tests {
		if got := PhoneToJID(tt.phone); got != tt.want {
			t.Errorf("PhoneToJID(%q) = %q, want %q", tt.phone, got, tt.want)
		}
	}
}

func TestJIDPhoneRoundTrip(t *testing.T) {
	jids := []string{
		"18625206066@s.whatsapp.net",
		"4915112345678@s.whatsapp.net",
		"12025550123@s.whatsapp.net",
	}
	for _, jid := range jids {
		if got := PhoneToJID(JIDToPhone(jid)); got != jid {
			t.Errorf("round trip of %q produced %q", jid, got)
		}
	}

	// Repeated normalization is idempotent.
	p := JIDToPhone("18625206066@s.whatsapp.net")
	if again := JIDToPhone(PhoneToJID(p)); again != p {
		t.Errorf("normalization not idempotent: %q vs %q", p, again)
	}
}

func TestRequest_EnvelopeShape(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	in := Inbound{
		Text:      "Hello, agent!",
		SenderJID: "18625206066@s.whatsapp.net",
		MessageID: "3EB0ABC123",
		Timestamp: ts,
	}

	msg := Request(in, "assistant")

	if err := msg.Validate(); err != nil {
		t.Fatalf("envelope invalid: %v", err)
	}
	if msg.Type != umf.TypeRequest {
		t.Errorf("expected request type, got %s", msg.Type)
	}
	if msg.ID == "" || msg.Timestamp == "" {
		t.Error("id and timestamp must always be present")
	}
	if msg.Source.AgentID != "+18625206066" {
		t.Errorf("source agent_id = %q, want +18625206066", msg.Source.AgentID)
	}
	if msg.Source.ChannelID != "whatsapp" || msg.Destination.ChannelID != "whatsapp" {
		t.Error("both addresses should carry the whatsapp channel id")
	}
	if msg.Destination.AgentID != "assistant" {
		t.Errorf("destination agent_id = %q", msg.Destination.AgentID)
	}
	if msg.SessionID != in.SenderJID || msg.ConversationID != in.SenderJID {
		t.Error("session and conversation ids should equal the sender JID")
	}
}

func TestRequest_SingleVerbatimTextBlock(t *testing.T) {
	texts := []string{
		"Hello, agent!",
		"multi\nline\ntext",
		"emoji 🎉 and ünïcödé",
		"  leading and trailing spaces  ",
	}
	for _, text := range texts {
		msg := Request(Inbound{Text: text, SenderJID: "12025550123@s.whatsapp.net", Timestamp: time.Now()}, "assistant")
		if len(msg.Content) != 1 {
			t.Fatalf("expected exactly one content block, got %d", len(msg.Content))
		}
		if msg.Content[0].Type != umf.ContentText {
			t.Errorf("block type = %s, want text", msg.Content[0].Type)
		}
		if msg.Content[0].Data != text {
			t.Errorf("text not verbatim: %q", msg.Content[0].Data)
		}
	}
}

func TestRequest_ClientPrincipal(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := Request(Inbound{
		Text:      "hi",
		SenderJID: "18625206066@s.whatsapp.net",
		MessageID: "MSG1",
		Timestamp: ts,
	}, "assistant")

	raw, ok := msg.Metadata["client_principal"]
	if !ok {
		t.Fatal("metadata missing client_principal")
	}
	principal, ok := raw.(umf.ClientPrincipal)
	if !ok {
		t.Fatalf("client_principal has unexpected type %T", raw)
	}
	if principal.AssuranceLevel != umf.AssuranceMedium {
		t.Errorf("assurance_level = %s, want medium", principal.AssuranceLevel)
	}
	if principal.AuthenticationMethod != "whatsapp_phone_verification" {
		t.Errorf("authentication_method = %s", principal.AuthenticationMethod)
	}
	if principal.ChannelIdentity != "+18625206066" {
		t.Errorf("channel_identity = %s", principal.ChannelIdentity)
	}
	if principal.Metadata["jid"] != "18625206066@s.whatsapp.net" {
		t.Errorf("principal metadata jid = %v", principal.Metadata["jid"])
	}
	if msg.Metadata["transport_message_id"] != "MSG1" {
		t.Errorf("transport_message_id = %v", msg.Metadata["transport_message_id"])
	}
	if msg.Metadata["transport_timestamp"] != "2024-06-01T12:00:00Z" {
		t.Errorf("transport_timestamp = %v", msg.Metadata["transport_timestamp"])
	}
}

func TestReplyText(t *testing.T) {
	resp := umf.New(umf.TypeResponse)
	resp.Content = []umf.ContentBlock{{Type: umf.ContentText, Data: "Hi there!"}}

	text, ok := ReplyText(resp)
	if !ok || text != "Hi there!" {
		t.Errorf("ReplyText = %q, %v", text, ok)
	}
}

func TestReplyText_NoUsableContent(t *testing.T) {
	tests := []*umf.Message{
		umf.New(umf.TypeResponse),
		{ID: "x", Type: umf.TypeResponse, Content: []umf.ContentBlock{{Type: umf.ContentJSON, Data: map[string]interface{}{"k": "v"}}}},
		{ID: "y", Type: umf.TypeResponse, Content: []umf.ContentBlock{{Type: umf.ContentText, Data: ""}}},
	}
	for i, resp := range tests {
		if text, ok := ReplyText(resp); ok {
			t.Errorf("case %d: expected no reply, got %q", i, text)
		}
	}
}
