package socketmode

import (
	"encoding/json"
)

// MessageType is the closed set of envelope kinds that
// Slack sends over a Socket Mode WebSocket connection.
type MessageType string

const (
	TypeEventsAPI     MessageType = "events_api"
	TypeSlashCommands MessageType = "slash_commands"
	TypeInteractive   MessageType = "interactive"
	TypeAppMention    MessageType = "app_mention"
	TypeDisconnect    MessageType = "disconnect"
	TypeHello         MessageType = "hello"
	TypeUnknown       MessageType = "unknown"
)

// ParseMessageType maps a raw "type" field to a [MessageType].
// Unrecognized values map to [TypeUnknown].
func ParseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeEventsAPI, TypeSlashCommands, TypeInteractive, TypeAppMention, TypeDisconnect, TypeHello:
		return t
	default:
		return TypeUnknown
	}
}

// IsControl reports whether the message type is consumed by the
// [Client] itself, and therefore never routed to user handlers.
func (t MessageType) IsControl() bool {
	return t == TypeHello || t == TypeDisconnect
}

func (t MessageType) String() string {
	return string(t)
}

// Envelope is a single inbound Socket Mode message. See
// https://docs.slack.dev/apis/events-api/using-socket-mode#events.
type Envelope struct {
	Type                   string          `json:"type"`
	EnvelopeID             string          `json:"envelope_id"`
	Payload                json.RawMessage `json:"payload"`
	AcceptsResponsePayload bool            `json:"accepts_response_payload"`
	RetryAttempt           *int            `json:"retry_attempt,omitempty"`
	RetryReason            *string         `json:"retry_reason,omitempty"`

	// Only in "hello" and "disconnect" control messages.
	Reason         string          `json:"reason,omitempty"`
	NumConnections int             `json:"num_connections,omitempty"`
	DebugInfo      json.RawMessage `json:"debug_info,omitempty"`
}

// Kind returns the envelope's parsed message type.
func (e Envelope) Kind() MessageType {
	return ParseMessageType(e.Type)
}

// Ack acknowledges the receipt of an [Envelope]. See
// https://docs.slack.dev/apis/events-api/using-socket-mode#acknowledge.
type Ack struct {
	EnvelopeID string `json:"envelope_id"`
	Payload    any    `json:"payload,omitempty"`
}
