package umf

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the role of an envelope on the wire.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeError        MessageType = "error"
)

// ContentType tags a single content block.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentJSON     ContentType = "json"
	ContentMarkdown ContentType = "markdown"
	ContentHTML     ContentType = "html"
	ContentBinary   ContentType = "binary"
	ContentImage    ContentType = "image"
	ContentFile     ContentType = "file"
)

// AssuranceLevel is an ordered confidence rating for how strongly the
// originating channel verified the sender's identity.
type AssuranceLevel string

const (
	AssuranceNone          AssuranceLevel = "none"
	AssuranceLow           AssuranceLevel = "low"
	AssuranceMedium        AssuranceLevel = "medium"
	AssuranceHigh          AssuranceLevel = "high"
	AssuranceCryptographic AssuranceLevel = "cryptographic"
)

var assuranceRank = map[AssuranceLevel]int{
	AssuranceNone:          0,
	AssuranceLow:           1,
	AssuranceMedium:        2,
	AssuranceHigh:          3,
	AssuranceCryptographic: 4,
}

// AtLeast reports whether a meets or exceeds the given level. Unknown
// levels rank below "none".
func (a AssuranceLevel) AtLeast(min AssuranceLevel) bool {
	return assuranceRank[a] >= assuranceRank[min]
}

// Address identifies one end of an envelope.
type Address struct {
	AgentID   string `json:"agent_id"`
	ChannelID string `json:"channel_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ContentBlock struct {
	Type     ContentType            `json:"type"`
	Data     interface{}            `json:"data"`
	MimeType string                 `json:"mime_type,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ClientPrincipal describes the authenticated identity of the sender,
// carried inside envelope metadata under the "client_principal" key.
type ClientPrincipal struct {
	ChannelID            string                 `json:"channel_id"`
	ChannelIdentity      string                 `json:"channel_identity"`
	AssuranceLevel       AssuranceLevel         `json:"assurance_level"`
	AuthenticationMethod string                 `json:"authentication_method"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// Message is the wire-level envelope exchanged with the gateway. It is
// built once per inbound channel event and never mutated afterwards.
type Message struct {
	ID             string                 `json:"id"`
	Type           MessageType            `json:"type"`
	Timestamp      string                 `json:"timestamp"`
	Source         *Address               `json:"source,omitempty"`
	Destination    *Address               `json:"destination,omitempty"`
	Content        []ContentBlock         `json:"content"`
	SessionID      string                 `json:"session_id,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// New returns an envelope with a fresh unique id and the current
// wall-clock time. Content and addressing are filled in by the caller.
func New(t MessageType) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  map[string]interface{}{},
	}
}

// Validate checks the envelope invariants: id and timestamp always
// present, content never empty for a request.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("umf: envelope missing id")
	}
	if m.Timestamp == "" {
		return fmt.Errorf("umf: envelope missing timestamp")
	}
	switch m.Type {
	case TypeRequest, TypeResponse, TypeNotification, TypeError:
	default:
		return fmt.Errorf("umf: unknown message type %q", m.Type)
	}
	if m.Type == TypeRequest && len(m.Content) == 0 {
		return fmt.Errorf("umf: request envelope has no content")
	}
	return nil
}

// FirstText returns the first content block's data as a string. The
// second return is false when there is no usable text, which callers
// treat as "no reply available".
func (m *Message) FirstText() (string, bool) {
	if m == nil || len(m.Content) == 0 {
		return "", false
	}
	s, ok := m.Content[0].Data.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
