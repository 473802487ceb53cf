package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

const (
	pingTimeout = 10 * time.Second
	// maxCloseReason keeps the close frame under the 125 byte control frame limit.
	maxCloseReason = 120
)

// errServerClosed is returned by the write loop when the hub closed the client.
var errServerClosed = errors.New("closed by server")

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub *core.Hub
	log *zerolog.Logger

	maxMessageBytes    int64
	rateLimitPerMinute int
	eventBuffer        int
	pingInterval       time.Duration
	originPatterns     []string
}

// NewWSHandler builds a new WebSocket handler.
// The identity must already be on the request context (see AuthMiddleware).
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:                hub,
		log:                logger,
		maxMessageBytes:    cfg.MaxMessageBytes,
		rateLimitPerMinute: cfg.RateLimitPerMinute,
		eventBuffer:        cfg.EventBuffer,
		pingInterval:       cfg.PingInterval,
		originPatterns:     cfg.AllowedOrigins,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	user, ok := IdentityFromContext(r.Context())
	if !ok {
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	client := core.NewClient(utils.NewID(), user, h.eventBuffer)
	h.log.Info().Str("client_id", client.ID).Int64("user_id", user.UserID).Str("user", user.Name).Msg("ws connected")
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
	} else {
		h.log.Info().Str("client_id", client.ID).Msg("ws disconnected")
	}
	_ = conn.Close(status, reason)
}

// closeStatus picks the close frame for the error that ended the connection.
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, errServerClosed):
		return websocket.StatusGoingAway, "server shutting down"
	}
	if s := websocket.CloseStatus(err); s != -1 {
		if s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			return websocket.StatusNormalClosure, "closing"
		}
		return s, "closing"
	}
	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return websocket.StatusInternalError, reason
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.rateLimitPerMinute)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.log.Warn().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			}
			return err
		}

		if !limiter.Allow() {
			h.reject(client, &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"})
			continue
		}

		req, err := proto.Decode(inbound)
		if err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Str("type", inbound.Type).Msg("rejected inbound")
			h.reject(client, decodeError(err))
			continue
		}

		cmd := commandFromRequest(req)
		if cmd == nil {
			continue
		}
		if err := client.Submit(ctx, cmd); err != nil {
			return err
		}
	}
}

// reject queues a protocol error for the client behind any pending events.
func (h *WSHandler) reject(client *core.Client, perr *proto.Error) {
	ev := &core.Event{Kind: core.EventError, Error: &core.CoreError{Code: perr.Code, Message: perr.Msg}}
	if err := client.Deliver(ev); err != nil && !errors.Is(err, core.ErrClientClosed) {
		h.log.Warn().Err(err).Str("client_id", client.ID).Msg("drop error for client")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return errServerClosed
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				if ctx.Err() == nil {
					h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				}
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	if h.pingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ stdhttp.Handler = (*WSHandler)(nil)
