// Package wire defines the JSON frames exchanged over the realtime socket.
//
// Every frame is a JSON object with a "type" tag. Outbound and inbound frames
// are modelled as closed sets of structs behind the Outbound and Inbound
// interfaces so routers can switch over them exhaustively.
package wire

import (
	"encoding/json"
	"time"
)

// Frame type tags.
const (
	TypeHandshake           = "handshake"
	TypeMessage             = "message"
	TypeMarkRead            = "mark_read"
	TypeMessageDeleted      = "message_deleted"
	TypeConversationCleared = "conversation_cleared"
	TypeOnlineUsers         = "online_users"
	TypeStatusUpdate        = "status_update"
	TypeAuthSuccess         = "auth_success"
	TypeError               = "error"
)

// Outbound is a client to server frame.
type Outbound interface {
	FrameType() string
	outbound()
}

// Handshake announces the local user right after the socket opens.
type Handshake struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// SendMessage carries a new chat message. ClientTempID lets the server echo
// correlate with the optimistic local entry.
type SendMessage struct {
	Content      string `json:"content"`
	RecipientID  string `json:"recipientId"`
	ClientTempID string `json:"clientTempId"`
}

// MarkRead acknowledges a single peer message as read.
type MarkRead struct {
	MessageID string `json:"messageId"`
}

// MessageDeleted is advisory, sent after a successful REST delete.
type MessageDeleted struct {
	MessageID string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// ConversationCleared is advisory, sent after a successful REST bulk delete.
type ConversationCleared struct {
	RecipientID string `json:"recipientId"`
}

func (Handshake) FrameType() string           { return TypeHandshake }
func (SendMessage) FrameType() string         { return TypeMessage }
func (MarkRead) FrameType() string            { return TypeMarkRead }
func (MessageDeleted) FrameType() string      { return TypeMessageDeleted }
func (ConversationCleared) FrameType() string { return TypeConversationCleared }

func (Handshake) outbound()           {}
func (SendMessage) outbound()         {}
func (MarkRead) outbound()            {}
func (MessageDeleted) outbound()      {}
func (ConversationCleared) outbound() {}

func (f Handshake) MarshalJSON() ([]byte, error) {
	type alias Handshake
	return tagged(f.FrameType(), alias(f))
}

func (f SendMessage) MarshalJSON() ([]byte, error) {
	type alias SendMessage
	return tagged(f.FrameType(), alias(f))
}

func (f MarkRead) MarshalJSON() ([]byte, error) {
	type alias MarkRead
	return tagged(f.FrameType(), alias(f))
}

func (f MessageDeleted) MarshalJSON() ([]byte, error) {
	type alias MessageDeleted
	return tagged(f.FrameType(), alias(f))
}

func (f ConversationCleared) MarshalJSON() ([]byte, error) {
	type alias ConversationCleared
	return tagged(f.FrameType(), alias(f))
}

// tagged marshals body and prepends the "type" member.
func tagged(typ string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(raw) > 2 {
		out = append(out, ',')
	}
	out = append(out, raw[1:]...)
	return out, nil
}

// Encode renders an outbound frame as JSON.
func Encode(f Outbound) ([]byte, error) {
	return json.Marshal(f)
}
