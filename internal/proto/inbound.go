package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin        = "join"
	InboundTypeLeave       = "leave"
	InboundTypeSendMessage = "send_message"
	InboundTypeHistory     = "history"

	// MaxClientMsgIDLen bounds the client-chosen idempotency key.
	MaxClientMsgIDLen = 64
	// MaxHistoryLimit is the largest page a client may request.
	MaxHistoryLimit = 500
)

var (
	// ErrUnknownType is returned for an envelope whose type names no request.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when the payload does not decode into the request shape.
	ErrMalformed = errors.New("malformed payload")
)

// FieldError reports a payload field that failed boundary validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Request is one of the typed inbound variants.
type Request interface {
	Type() string
}

// JoinRequest asks to join a room.
type JoinRequest struct {
	Room string `json:"room"`
}

// LeaveRequest asks to leave a room.
type LeaveRequest struct {
	Room string `json:"room"`
}

// SendMessageRequest carries a chat message. Body content rules are enforced by the relay.
type SendMessageRequest struct {
	Room        string `json:"room,omitempty"`
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// HistoryRequest asks for stored messages of a room.
type HistoryRequest struct {
	Room    string `json:"room,omitempty"`
	AfterID int64  `json:"after_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (JoinRequest) Type() string        { return InboundTypeJoin }
func (LeaveRequest) Type() string       { return InboundTypeLeave }
func (SendMessageRequest) Type() string { return InboundTypeSendMessage }
func (HistoryRequest) Type() string     { return InboundTypeHistory }

// Decode turns an envelope into its typed request, rejecting malformed shapes.
func Decode(in Inbound) (Request, error) {
	switch in.Type {
	case InboundTypeJoin:
		var r JoinRequest
		if err := unmarshal(in.Data, &r); err != nil {
			return nil, err
		}
		return r, nil
	case InboundTypeLeave:
		var r LeaveRequest
		if err := unmarshal(in.Data, &r); err != nil {
			return nil, err
		}
		return r, nil
	case InboundTypeSendMessage:
		var r SendMessageRequest
		if err := unmarshal(in.Data, &r); err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(r.ClientMsgID) > MaxClientMsgIDLen {
			return nil, &FieldError{Field: "client_msg_id", Reason: fmt.Sprintf("must be at most %d characters", MaxClientMsgIDLen)}
		}
		return r, nil
	case InboundTypeHistory:
		var r HistoryRequest
		if err := unmarshal(in.Data, &r); err != nil {
			return nil, err
		}
		if r.AfterID < 0 {
			return nil, &FieldError{Field: "after_id", Reason: "must not be negative"}
		}
		if r.Limit < 0 || r.Limit > MaxHistoryLimit {
			return nil, &FieldError{Field: "limit", Reason: fmt.Sprintf("must be between 0 and %d", MaxHistoryLimit)}
		}
		return r, nil
	case "":
		return nil, &FieldError{Field: "type", Reason: "is required"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Encode wraps a request into its envelope.
func Encode(r Request) (Inbound, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Inbound{}, fmt.Errorf("encode %s: %w", r.Type(), err)
	}
	return Inbound{Type: r.Type(), Data: data}, nil
}
