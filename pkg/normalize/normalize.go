// Package normalize converts between native WhatsApp message shapes and
// UMF envelopes. This boundary is where interoperability lives: the
// gateway only ever sees envelopes produced here.
package normalize

import (
	"strings"
	"time"

	"github.com/umflabs/wabridge/pkg/umf"
)

const (
	// ChannelID tags every envelope produced by this bridge.
	ChannelID = "whatsapp"

	// UserServer is the JID domain suffix for direct chats.
	UserServer = "s.whatsapp.net"

	authenticationMethod = "whatsapp_phone_verification"
)

// Inbound carries the fields the connection manager extracts from a raw
// transport event before handing it over for conversion.
type Inbound struct {
	Text      string
	SenderJID string
	MessageID string
	Timestamp time.Time
	MediaPath string
}

// JIDToPhone extracts the leading digit run of a native channel identity
// and prefixes it with "+". "18625206066@s.whatsapp.net" becomes
// "+18625206066". Inputs without leading digits yield just "+".
func JIDToPhone(jid string) string {
	var b strings.Builder
	b.WriteByte('+')
	for i := 0; i < len(jid); i++ {
		c := jid[i]
		if c < '0' || c > '9' {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

// PhoneToJID strips every non-digit character from a phone string and
// appends the direct-chat domain suffix, the exact inverse of
// JIDToPhone for digit-only inputs.
func PhoneToJID(phone string) string {
	var b strings.Builder
	for i := 0; i < len(phone); i++ {
		c := phone[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String() + "@" + UserServer
}

// Request builds the UMF request envelope for one inbound message. The
// envelope timestamp is the processing time, not the transport
// timestamp; the transport values ride along in metadata for
// traceability.
func Request(in Inbound, targetAgent string) *umf.Message {
	phone := JIDToPhone(in.SenderJID)

	msg := umf.New(umf.TypeRequest)
	msg.Source = &umf.Address{
		AgentID:   phone,
		ChannelID: ChannelID,
		SessionID: in.SenderJID,
	}
	msg.Destination = &umf.Address{
		AgentID:   targetAgent,
		ChannelID: ChannelID,
	}

	block := umf.ContentBlock{
		Type: umf.ContentText,
		Data: in.Text,
	}
	if in.MediaPath != "" {
		block.Metadata = map[string]interface{}{"media_path": in.MediaPath}
	}
	msg.Content = []umf.ContentBlock{block}

	// One conversation per sender, no multi-session fan-out.
	msg.SessionID = in.SenderJID
	msg.ConversationID = in.SenderJID

	principal := umf.ClientPrincipal{
		ChannelID:       ChannelID,
		ChannelIdentity: phone,
		// Phone-verified but not cryptographically proven.
		AssuranceLevel:       umf.AssuranceMedium,
		AuthenticationMethod: authenticationMethod,
		Metadata: map[string]interface{}{
			"jid":                 in.SenderJID,
			"transport_timestamp": in.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	msg.Metadata["client_principal"] = principal
	msg.Metadata["transport_message_id"] = in.MessageID
	msg.Metadata["transport_timestamp"] = in.Timestamp.UTC().Format(time.RFC3339)

	return msg
}

// ReplyText extracts the outbound text from a UMF response envelope.
// A missing or non-string first block means no message gets sent, a
// silent no-op rather than an error.
func ReplyText(resp *umf.Message) (string, bool) {
	return resp.FirstText()
}
