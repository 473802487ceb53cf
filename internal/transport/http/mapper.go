package http

import (
	"errors"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func commandFromRequest(req proto.Request) *core.Command {
	switch r := req.(type) {
	case proto.JoinRequest:
		return &core.Command{Kind: core.CommandJoinRoom, Room: r.Room}
	case proto.LeaveRequest:
		return &core.Command{Kind: core.CommandLeaveRoom, Room: r.Room}
	case proto.SendMessageRequest:
		return &core.Command{
			Kind:        core.CommandSendRoomMessage,
			Room:        r.Room,
			Body:        r.Body,
			ClientMsgID: r.ClientMsgID,
		}
	case proto.HistoryRequest:
		return &core.Command{
			Kind:    core.CommandHistory,
			Room:    r.Room,
			AfterID: r.AfterID,
			Limit:   r.Limit,
		}
	default:
		return nil
	}
}

// decodeError converts a boundary validation failure into a protocol error.
func decodeError(err error) *proto.Error {
	var fieldErr *proto.FieldError
	switch {
	case errors.As(err, &fieldErr):
		return &proto.Error{Code: core.ErrCodeValidation, Msg: fieldErr.Error()}
	case errors.Is(err, proto.ErrUnknownType):
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}
	default:
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "malformed payload"}
	}
}

func protoError(err *core.CoreError) *proto.Error {
	if err == nil {
		return &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}
	}
	return &proto.Error{Code: err.Code, Msg: err.Message}
}

func messageToProto(m core.Message) proto.NewMessage {
	return proto.NewMessage{
		ID:          m.ID,
		Author:      proto.Author{ID: m.AuthorID, Name: m.AuthorName},
		Body:        m.Body,
		Room:        m.Room,
		CreatedAt:   m.CreatedAt,
		ClientMsgID: m.ClientMsgID,
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventWelcome:
		w := event.Welcome
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventWelcome,
			Data: proto.Welcome{
				ConnectionID: w.ConnectionID,
				User:         proto.Author{ID: w.UserID, Name: w.UserName},
				Protocol:     proto.ProtocolVersion,
				DefaultRoom:  w.DefaultRoom,
			},
		}
	case core.EventRoomMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessage,
			Data:  messageToProto(event.Message),
		}
	case core.EventPresence:
		p := event.Presence
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresence,
			Data: proto.Presence{
				Room:        p.Room,
				Kind:        string(p.Kind),
				Actor:       proto.Author{ID: p.ActorID, Name: p.ActorName},
				Description: p.Description,
				Timestamp:   p.At,
			},
		}
	case core.EventAck:
		a := event.Ack
		ack := proto.Ack{ClientMsgID: a.ClientMsgID, Status: proto.AckStatusOK}
		if a.OK {
			createdAt := a.CreatedAt
			ack.MessageID = a.MessageID
			ack.CreatedAt = &createdAt
			ack.Duplicate = a.Duplicate
		} else {
			ack.Status = proto.AckStatusError
			ack.Error = protoError(a.Error)
		}
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventAck, Data: ack}
	case core.EventHistory:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventHistory,
			Data:  proto.History{Room: event.Room, Messages: messagesToProto(event.Messages)},
		}
	case core.EventError:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: protoError(event.Error)}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown event"}}
	}
}

func messagesToProto(msgs []core.Message) []proto.NewMessage {
	out := make([]proto.NewMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToProto(m))
	}
	return out
}
