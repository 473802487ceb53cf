package http

import (
	"context"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, stdhttp.MethodGet, "/health", "", nil)
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketRejectsMissingOrInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for name, url := range map[string]string{
		"missing": env.wsURL(),
		"invalid": env.wsURL() + "?token=not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.Dial(ctx, url, nil)
			if err == nil {
				conn.CloseNow()
				t.Fatalf("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
				t.Fatalf("expected 401, got %+v", resp)
			}
		})
	}

	if env.hub.Connected() != 0 {
		t.Fatalf("rejected handshakes must not register connections")
	}
}

func TestWebSocketWelcome(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, alice.Token, false)
	welcome := decodeData[proto.Welcome](t, readEvent(t, ctx, conn, proto.EventWelcome))

	if welcome.Protocol != proto.ProtocolVersion || welcome.DefaultRoom != core.GeneralRoom {
		t.Fatalf("unexpected welcome: %+v", welcome)
	}
	if welcome.User.ID != alice.Identity.UserID || welcome.User.Name != "alice" || welcome.ConnectionID == "" {
		t.Fatalf("welcome does not describe the connection: %+v", welcome)
	}
}

func TestWebSocketRoomMessageFanOut(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, alice.Token, false)
	readEvent(t, ctx, connA, proto.EventWelcome)
	send(t, ctx, connA, proto.JoinRequest{Room: "general"})
	readEvent(t, ctx, connA, proto.EventPresence)

	connB := env.dial(t, ctx, bob.Token, true)
	readEvent(t, ctx, connB, proto.EventWelcome)
	send(t, ctx, connB, proto.JoinRequest{Room: "general"})
	readEvent(t, ctx, connB, proto.EventPresence)

	joined := decodeData[proto.Presence](t, readEvent(t, ctx, connA, proto.EventPresence))
	if joined.Kind != "join" || joined.Actor.Name != "bob" || joined.Description != "bob joined the chat" {
		t.Fatalf("unexpected presence: %+v", joined)
	}

	send(t, ctx, connA, proto.SendMessageRequest{Room: "general", Body: "hello", ClientMsgID: "c1"})

	var ids []int64
	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := decodeData[proto.NewMessage](t, readEvent(t, ctx, conn, proto.EventNewMessage))
		if msg.Body != "hello" || msg.Author.Name != "alice" || msg.Author.ID != alice.Identity.UserID || msg.Room != "general" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.CreatedAt.IsZero() || msg.ClientMsgID != "c1" {
			t.Fatalf("message misses store fields: %+v", msg)
		}
		ids = append(ids, msg.ID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("members saw different ids: %v", ids)
	}

	ack := decodeData[proto.Ack](t, readEvent(t, ctx, connA, proto.EventAck))
	if ack.Status != proto.AckStatusOK || ack.MessageID != ids[0] || ack.ClientMsgID != "c1" || ack.CreatedAt == nil {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	var count ChatCountResponse
	decodeBody(t, env.do(t, stdhttp.MethodGet, "/api/chat/count", "", nil), &count)
	if count.TotalChats != 1 {
		t.Fatalf("expected 1 stored message, got %d", count.TotalChats)
	}
}

func TestWebSocketBlankBodyIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, alice.Token, false)
	send(t, ctx, conn, proto.SendMessageRequest{Body: "   ", ClientMsgID: "blank"})

	ack := decodeData[proto.Ack](t, readEvent(t, ctx, conn, proto.EventAck))
	if ack.Status != proto.AckStatusError || ack.Error == nil || ack.Error.Code != core.ErrCodeValidation || ack.ClientMsgID != "blank" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	n, err := env.store.CountMessages(ctx)
	if err != nil || n != 0 {
		t.Fatalf("blank body must not be stored: n=%d err=%v", n, err)
	}
}

func TestWebSocketInvalidInboundKeepsConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, alice.Token, false)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: "msg"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := readEvent(t, ctx, conn, proto.OutboundTypeError)
	if out.Error == nil || out.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", out.Error)
	}

	send(t, ctx, conn, proto.JoinRequest{Room: "general"})
	presence := decodeData[proto.Presence](t, readEvent(t, ctx, conn, proto.EventPresence))
	if presence.Actor.Name != "alice" {
		t.Fatalf("unexpected presence: %+v", presence)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 2 })
	alice := env.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, alice.Token, false)
	for range 3 {
		send(t, ctx, conn, proto.HistoryRequest{Room: "general"})
	}

	out := readEvent(t, ctx, conn, proto.OutboundTypeError)
	if out.Error == nil || out.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", out.Error)
	}
}

func TestWebSocketDisconnectBroadcastsLeave(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, alice.Token, false)
	send(t, ctx, connA, proto.JoinRequest{Room: "general"})
	readEvent(t, ctx, connA, proto.EventPresence)

	connB := env.dial(t, ctx, bob.Token, false)
	send(t, ctx, connB, proto.JoinRequest{Room: "general"})
	readEvent(t, ctx, connB, proto.EventPresence)
	readEvent(t, ctx, connA, proto.EventPresence)

	if err := connB.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}

	left := decodeData[proto.Presence](t, readEvent(t, ctx, connA, proto.EventPresence))
	if left.Kind != "leave" || left.Actor.Name != "bob" || left.Description != "bob left the chat" {
		t.Fatalf("unexpected presence: %+v", left)
	}
}

func TestWebSocketHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, alice.Token, false)
	for _, body := range []string{"one", "two", "three"} {
		send(t, ctx, conn, proto.SendMessageRequest{Body: body})
		readEvent(t, ctx, conn, proto.EventAck)
	}

	send(t, ctx, conn, proto.HistoryRequest{Limit: 2})
	history := decodeData[proto.History](t, readEvent(t, ctx, conn, proto.EventHistory))
	if history.Room != core.GeneralRoom || len(history.Messages) != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history.Messages[0].Body != "two" || history.Messages[1].Body != "three" {
		t.Fatalf("expected latest two oldest first, got %+v", history.Messages)
	}
}
