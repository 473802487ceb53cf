package proto

import (
	"encoding/json"
	"time"
)

const (
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventWelcome    = "welcome"
	EventNewMessage = "new_message"
	EventPresence   = "presence"
	EventAck        = "ack"
	EventHistory    = "history"

	AckStatusOK    = "ok"
	AckStatusError = "error"
)

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// RawOutbound is Outbound as seen by a client, with the payload left undecoded.
type RawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Author identifies who wrote a message. Only the display name is exposed besides the id.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Welcome is sent once after the channel is established.
type Welcome struct {
	ConnectionID string `json:"connection_id"`
	User         Author `json:"user"`
	Protocol     int    `json:"protocol"`
	DefaultRoom  string `json:"default_room"`
}

// NewMessage is a persisted chat message delivered to room members.
type NewMessage struct {
	ID          int64     `json:"id"`
	Author      Author    `json:"author"`
	Body        string    `json:"body"`
	Room        string    `json:"room"`
	CreatedAt   time.Time `json:"created_at"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
}

// Presence notifies that a participant joined or left a room.
type Presence struct {
	Room        string    `json:"room"`
	Kind        string    `json:"kind"`
	Actor       Author    `json:"actor"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Ack reports the outcome of a send_message to its author.
type Ack struct {
	ClientMsgID string     `json:"client_msg_id,omitempty"`
	Status      string     `json:"status"`
	MessageID   int64      `json:"message_id,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Duplicate   bool       `json:"duplicate,omitempty"`
	Error       *Error     `json:"error,omitempty"`
}

// History is a page of stored messages, oldest first.
type History struct {
	Room     string       `json:"room"`
	Messages []NewMessage `json:"messages"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}
