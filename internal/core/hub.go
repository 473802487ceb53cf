package core

import (
	"context"
	"errors"
	"hash/maphash"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const (
	defaultPersistTimeout = 5 * time.Second
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 500
	sequencerStripes      = 64
)

// Hub owns every live connection, routes commands and fans events out through the registry.
type Hub struct {
	store    store.MessageStore
	registry *Registry
	log      *zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	persistTimeout time.Duration
	historyLimit   int

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*Client

	seqSeed    maphash.Seed
	sequencers [sequencerStripes]sync.Mutex
}

// Option customizes a Hub.
type Option func(*Hub)

// WithPersistTimeout bounds a single message insert.
func WithPersistTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.persistTimeout = d
		}
	}
}

// WithHistoryLimit sets the number of messages returned when a history request gives no limit.
func WithHistoryLimit(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.historyLimit = min(n, maxHistoryLimit)
		}
	}
}

// NewHub creates a new chat hub backed by st.
func NewHub(st store.MessageStore, logger *zerolog.Logger, opts ...Option) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	base, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:          st,
		registry:       NewRegistry(logger),
		log:            logger,
		tracer:         otel.Tracer("github.com/vovakirdan/wirechat-relay/internal/core"),
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
		historyLimit:   defaultHistoryLimit,
		base:           base,
		cancel:         cancel,
		clients:        make(map[string]*Client),
		seqSeed:        maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes room membership.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.cancel()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.UnregisterClient(c)
	}
	h.log.Info().Int("clients", len(clients)).Msg("hub stopped")
}

// RegisterClient adds a new connection, greets it and starts processing its commands.
// The connection has no room membership until it joins one.
func (h *Hub) RegisterClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.log.Debug().Str("client_id", c.ID).Str("user", c.User.Name).Msg("client registered")

	h.deliver(c, &Event{
		Kind: EventWelcome,
		Welcome: &Welcome{
			ConnectionID: c.ID,
			UserID:       c.User.UserID,
			UserName:     c.User.Name,
			DefaultRoom:  GeneralRoom,
		},
	})

	go h.serve(c)
}

// UnregisterClient removes the connection from all rooms, announces its departure
// and closes it. Returns false if the client was already gone.
func (h *Hub) UnregisterClient(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.membership.Lock()
	rooms := c.close()
	for _, room := range rooms {
		h.registry.Leave(room, c)
		h.announce(room, PresenceLeave, c)
	}
	c.membership.Unlock()

	h.log.Debug().Str("client_id", c.ID).Strs("rooms", rooms).Msg("client unregistered")
	return true
}

// Connected reports the number of live connections.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve processes one client's commands in arrival order.
func (h *Hub) serve(c *Client) {
	for {
		select {
		case <-c.done:
			return
		case <-h.base.Done():
			return
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			res, err := h.Handle(h.base, c, cmd)
			h.reply(c, cmd, res, err)
		}
	}
}

// Handle executes a single command on behalf of c.
func (h *Hub) Handle(ctx context.Context, c *Client, cmd *Command) (*Result, error) {
	switch cmd.Kind {
	case CommandJoinRoom:
		return h.join(c, cmd.Room)
	case CommandLeaveRoom:
		return h.leave(c, cmd.Room)
	case CommandSendRoomMessage:
		return h.send(ctx, c, cmd)
	case CommandHistory:
		return h.history(ctx, cmd)
	default:
		return nil, coreError(ErrCodeBadRequest, "unknown command")
	}
}

func validateRoom(room string) (string, error) {
	room = NormalizeRoom(room)
	if utf8.RuneCountInString(room) > MaxRoomRunes {
		return "", coreError(ErrCodeValidation, "room must be at most 64 characters")
	}
	return room, nil
}

func (h *Hub) join(c *Client, room string) (*Result, error) {
	room, err := validateRoom(room)
	if err != nil {
		return nil, err
	}
	c.membership.Lock()
	defer c.membership.Unlock()

	if !c.addRoom(room) {
		return &Result{}, nil
	}
	h.registry.Join(room, c)
	h.announce(room, PresenceJoin, c)
	return &Result{Changed: true}, nil
}

func (h *Hub) leave(c *Client, room string) (*Result, error) {
	room, err := validateRoom(room)
	if err != nil {
		return nil, err
	}
	c.membership.Lock()
	defer c.membership.Unlock()

	if !c.removeRoom(room) {
		return &Result{}, nil
	}
	h.registry.Leave(room, c)
	h.announce(room, PresenceLeave, c)
	return &Result{Changed: true}, nil
}

func (h *Hub) announce(room string, kind PresenceKind, c *Client) {
	h.registry.Broadcast(room, &Event{
		Kind: EventPresence,
		Room: room,
		Presence: &Presence{
			Room:        room,
			Kind:        kind,
			ActorID:     c.User.UserID,
			ActorName:   c.User.Name,
			Description: presenceDescription(kind, c.User.Name),
			At:          h.now().UTC(),
		},
	})
}

// sequencer returns the lock that orders sends to room. Rooms share a fixed set of
// stripes, so one label always maps to the same lock and memory stays bounded.
func (h *Hub) sequencer(room string) *sync.Mutex {
	return &h.sequencers[maphash.String(h.seqSeed, room)%sequencerStripes]
}

func (h *Hub) send(ctx context.Context, c *Client, cmd *Command) (*Result, error) {
	body := strings.TrimSpace(cmd.Body)
	if body == "" {
		return nil, coreError(ErrCodeValidation, "body must not be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return nil, coreError(ErrCodeValidation, "body must be at most 2000 characters")
	}
	if c.User.UserID <= 0 {
		return nil, coreError(ErrCodeUnauthorized, "identity not resolved")
	}
	room, err := validateRoom(cmd.Room)
	if err != nil {
		return nil, err
	}

	if h.store == nil {
		return nil, coreError(ErrCodeStoreUnavailable, "message store not configured")
	}

	ctx, span := h.tracer.Start(ctx, "relay.send", trace.WithAttributes(
		attribute.String("chat.room", room),
		attribute.Int64("chat.author_id", c.User.UserID),
	))
	defer span.End()

	// Messages of one room are persisted and broadcast one at a time so fan-out order
	// matches store order.
	seq := h.sequencer(room)
	seq.Lock()
	defer seq.Unlock()

	// A disconnect must not abort an insert already in flight.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.persistTimeout)
	stored, created, err := h.store.InsertMessage(persistCtx, store.NewMessage{
		AuthorID:    c.User.UserID,
		Room:        room,
		Body:        body,
		ClientMsgID: cmd.ClientMsgID,
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		if errors.Is(err, store.ErrValidation) {
			return nil, &CoreError{Code: ErrCodeValidation, Message: "message rejected", Err: err}
		}
		h.log.Error().Err(err).Str("client_id", c.ID).Str("room", room).Msg("failed to persist message")
		return nil, &CoreError{Code: ErrCodeStoreUnavailable, Message: "message not saved", Err: err}
	}

	msg := messageFromStore(stored)
	if msg.AuthorName == "" {
		msg.AuthorName = c.User.Name
	}
	span.SetAttributes(attribute.Int64("chat.message_id", msg.ID))

	if !created {
		return &Result{Message: &msg, Duplicate: true}, nil
	}

	pub := h.registry.Broadcast(room, &Event{Kind: EventRoomMessage, Room: room, Message: msg})
	span.SetAttributes(
		attribute.Int("chat.delivered", pub.Delivered),
		attribute.Int("chat.dropped", len(pub.Failed)),
	)
	return &Result{Message: &msg, Delivered: pub.Delivered}, nil
}

func (h *Hub) history(ctx context.Context, cmd *Command) (*Result, error) {
	room, err := validateRoom(cmd.Room)
	if err != nil {
		return nil, err
	}
	if h.store == nil {
		return &Result{Messages: []Message{}}, nil
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = h.historyLimit
	}
	limit = min(limit, maxHistoryLimit)

	stored, err := h.store.ListMessages(ctx, store.HistoryQuery{Room: room, AfterID: cmd.AfterID, Limit: limit})
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to load history")
		return nil, &CoreError{Code: ErrCodeStoreUnavailable, Message: "history unavailable", Err: err}
	}

	msgs := make([]Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, messageFromStore(m))
	}
	return &Result{Messages: msgs}, nil
}

// reply turns a command outcome into events for the issuing client.
func (h *Hub) reply(c *Client, cmd *Command, res *Result, err error) {
	var ce *CoreError
	if err != nil && !errors.As(err, &ce) {
		ce = &CoreError{Code: ErrCodeInternal, Message: "internal error", Err: err}
	}

	switch cmd.Kind {
	case CommandSendRoomMessage:
		ack := &Ack{ClientMsgID: cmd.ClientMsgID}
		if ce != nil {
			ack.Error = ce
		} else {
			ack.OK = true
			ack.MessageID = res.Message.ID
			ack.CreatedAt = res.Message.CreatedAt
			ack.Duplicate = res.Duplicate
		}
		h.deliver(c, &Event{Kind: EventAck, Room: NormalizeRoom(cmd.Room), Ack: ack})
	case CommandHistory:
		if ce != nil {
			h.deliver(c, &Event{Kind: EventError, Room: cmd.Room, Error: ce})
			return
		}
		h.deliver(c, &Event{Kind: EventHistory, Room: NormalizeRoom(cmd.Room), Messages: res.Messages})
	default:
		if ce != nil {
			h.deliver(c, &Event{Kind: EventError, Room: cmd.Room, Error: ce})
		}
	}
}

func (h *Hub) deliver(c *Client, ev *Event) {
	if err := c.Deliver(ev); err != nil && !errors.Is(err, ErrClientClosed) {
		h.log.Warn().Err(err).Str("client_id", c.ID).Msg("drop event for client")
	}
}
