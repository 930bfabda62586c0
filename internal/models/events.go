package models

import "encoding/json"

// Inbound event names.
const (
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventLeaveRoom   = "leaveRoom"
)

// Outbound event names.
const (
	EventChatHistory      = "chatHistory"
	EventNewMessage       = "newMessage"
	EventUserTyping       = "userTyping"
	EventUserStopTyping   = "userStopTyping"
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
	EventUserDisconnected = "userDisconnected"
	EventError            = "error"
)

// InboundFrame is a client frame before its payload is decoded.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a server frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SendMessagePayload is the body of a sendMessage frame.
type SendMessagePayload struct {
	Message string `json:"message"`
}

// TypingPayload names the user whose typing state changed.
type TypingPayload struct {
	Username string `json:"username"`
}

// SystemPayload carries server-synthesized announcement text.
type SystemPayload struct {
	Message string `json:"message"`
}
