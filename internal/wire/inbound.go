package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned by Decode for payloads that are not a JSON object
// with a string "type" member, or whose body does not fit the tagged shape.
var ErrMalformed = errors.New("malformed frame")

// Inbound is a server to client frame.
type Inbound interface {
	inbound()
}

// User is one roster entry of an online_users broadcast.
type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullname,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	AvatarLink string `json:"avatarLink,omitempty"`
}

// OnlineUsers is the full online roster; the server never sends deltas.
type OnlineUsers struct {
	Users []User `json:"users"`
}

// Message is a chat message pushed by the server, either from a peer or the
// echo of one of our own sends.
type Message struct {
	MessageID    string    `json:"messageId"`
	Content      string    `json:"content"`
	SenderID     string    `json:"senderId"`
	RecipientID  string    `json:"recipientId,omitempty"`
	CreatedAt    Timestamp `json:"createdAt"`
	ClientTempID string    `json:"clientTempId,omitempty"`
}

// StatusUpdate moves a message to a new delivery status. TempID is set when
// the server confirms one of our optimistic sends.
type StatusUpdate struct {
	MessageID string    `json:"messageId"`
	TempID    string    `json:"tempId,omitempty"`
	Status    string    `json:"status"`
	CreatedAt Timestamp `json:"createdAt"`
}

// AuthSuccess confirms the socket token was accepted.
type AuthSuccess struct{}

// ServerError is an advisory error pushed by the server.
type ServerError struct {
	Message string `json:"message"`
}

// Unknown is any frame whose type tag is not recognised.
type Unknown struct {
	Type string
	Raw  []byte
}

func (OnlineUsers) inbound()  {}
func (Message) inbound()      {}
func (StatusUpdate) inbound() {}
func (AuthSuccess) inbound()  {}
func (ServerError) inbound()  {}
func (Unknown) inbound()      {}

// Decode classifies a raw frame by its "type" member and unmarshals it into
// the matching variant. Unrecognised tags decode to Unknown without error.
func Decode(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	tag := root.Get("type")
	if tag.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var (
		frame Inbound
		err   error
	)
	switch tag.Str {
	case TypeOnlineUsers:
		var f OnlineUsers
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeMessage:
		var f Message
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeStatusUpdate:
		var f StatusUpdate
		err = json.Unmarshal(data, &f)
		frame = f
	case TypeAuthSuccess:
		frame = AuthSuccess{}
	case TypeError:
		var f ServerError
		err = json.Unmarshal(data, &f)
		frame = f
	default:
		return Unknown{Type: tag.Str, Raw: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag.Str, err)
	}
	return frame, nil
}

// Timestamp accepts ISO-8601 strings and unix millisecond numbers. Null,
// empty and absent values decode to the zero time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	v := gjson.ParseBytes(b)
	switch v.Type {
	case gjson.Null:
		t.Time = time.Time{}
	case gjson.Number:
		t.Time = time.UnixMilli(v.Int())
	case gjson.String:
		if v.Str == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, v.Str)
		if err != nil {
			ms, convErr := strconv.ParseInt(v.Str, 10, 64)
			if convErr != nil {
				return fmt.Errorf("parse timestamp %q: %w", v.Str, err)
			}
			parsed = time.UnixMilli(ms)
		}
		t.Time = parsed
	default:
		return fmt.Errorf("unsupported timestamp %s", v.Raw)
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time)
}
