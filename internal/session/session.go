package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

// State is the connection state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateGaveUp
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateGaveUp:
		return "gave_up"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultRoom           = "general"
	defaultHistoryLimit   = 50
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	welcomeTimeout        = 10 * time.Second
	maxBodyRunes          = 2000
)

var (
	// ErrGaveUp is returned by Run once the reconnect budget is spent.
	ErrGaveUp = errors.New("gave up reconnecting")
	// ErrUnauthorized is returned when the relay rejects the credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmptyBody is returned by Send for a blank message.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBodyTooLong is returned by Send for a message over the relay's limit.
	ErrBodyTooLong = errors.New("message body too long")

	errBackfill = errors.New("backfill failed")
)

// Options configures a Session.
type Options struct {
	URL   string
	Token string
	// Room is joined after every (re)connect.
	Room         string
	HistoryLimit int
	// MaxAttempts bounds consecutive failed connection attempts. A connection that
	// got past the welcome does not count against it unless its backfill was refused.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Dial     Dialer
	OnChange func(Snapshot)
	Logger   *zerolog.Logger
}

// Snapshot is what observers see after every change.
type Snapshot struct {
	State   State
	Self    proto.Author
	Entries []Entry
	Err     error
}

// Session keeps one client's view of a room across reconnects.
type Session struct {
	opts Options
	log  *zerolog.Logger

	mu       sync.Mutex
	state    State
	self     proto.Author
	timeline *Timeline
	err      error

	// ready is set once backfill finished on the current connection.
	ready bool
	// cursor is the highest id backfilled on the current connection.
	cursor int64
	// held keeps live room events that arrive while backfill is running.
	held   []proto.RawOutbound
	queue  []proto.Inbound
	notify chan struct{}
}

// New creates a session. Call Run to connect.
func New(opts Options) *Session {
	if opts.Room == "" {
		opts.Room = defaultRoom
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		opts:     opts,
		log:      logger,
		timeline: NewTimeline(),
		notify:   make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current state and a copy of the timeline.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Self: s.self, Entries: s.timeline.Entries(), Err: s.err}
}

// changed runs fn under the lock and notifies the observer afterwards.
func (s *Session) changed(fn func() bool) {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

func (s *Session) setState(state State, err error) {
	s.changed(func() bool {
		if s.state == state && s.err == err {
			return false
		}
		s.log.Debug().Stringer("from", s.state).Stringer("to", state).Msg("session state")
		s.state = state
		s.err = err
		return true
	})
}

// Send appends an optimistic entry and transmits the message once the channel is ready.
// Messages sent while disconnected go out after the next successful reconnect.
func (s *Session) Send(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > maxBodyRunes {
		return "", ErrBodyTooLong
	}

	clientMsgID := utils.NewID()
	s.changed(func() bool {
		s.timeline.AddPending(clientMsgID, s.opts.Room, body, s.self, time.Now())
		if s.ready {
			s.enqueueLocked(proto.SendMessageRequest{Room: s.opts.Room, Body: body, ClientMsgID: clientMsgID})
		}
		return true
	})
	return clientMsgID, nil
}

func (s *Session) enqueueLocked(req proto.Request) {
	in, err := proto.Encode(req)
	if err != nil {
		s.log.Error().Err(err).Str("type", req.Type()).Msg("encode request")
		return
	}
	s.queue = append(s.queue, in)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run connects and keeps reconnecting with exponential backoff until ctx is
// cancelled (returns nil) or MaxAttempts consecutive attempts fail (returns ErrGaveUp).
func (s *Session) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff

	s.setState(StateConnecting, nil)
	failures := 0
	for {
		connected, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			s.setState(StateClosed, nil)
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			s.setState(StateGaveUp, err)
			return fmt.Errorf("%w: %w", ErrGaveUp, err)
		}
		if connected && !errors.Is(err, errBackfill) {
			// A connection that got as far as the welcome starts a fresh budget.
			failures = 0
			b.Reset()
			s.log.Warn().Err(err).Msg("connection lost")
		} else {
			failures++
			s.log.Warn().Err(err).Int("attempt", failures).Msg("connection attempt failed")
		}

		if failures >= s.opts.MaxAttempts {
			s.setState(StateGaveUp, err)
			return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, s.opts.MaxAttempts, err)
		}
		s.setState(StateReconnecting, err)

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateClosed, nil)
			return nil
		case <-timer.C:
		}
	}
}

// connectOnce runs a single connection until it fails. connected reports whether the welcome arrived.
func (s *Session) connectOnce(ctx context.Context) (connected bool, err error) {
	conn, err := s.opts.Dial(ctx, s.opts.URL, s.opts.Token)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	welcomeCtx, cancel := context.WithTimeout(ctx, welcomeTimeout)
	out, err := conn.Read(welcomeCtx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("await welcome: %w", err)
	}
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventWelcome {
		return false, fmt.Errorf("expected welcome, got %s/%s", out.Type, out.Event)
	}
	var welcome proto.Welcome
	if err := json.Unmarshal(out.Data, &welcome); err != nil {
		return false, fmt.Errorf("decode welcome: %w", err)
	}

	s.changed(func() bool {
		s.self = welcome.User
		s.state = StateConnected
		s.err = nil
		s.ready = false
		s.queue = nil
		s.held = nil
		s.cursor = s.timeline.LastID()
		// Join before asking for the gap so nothing persisted in between is missed.
		// Overlapping copies are dropped by message id.
		s.enqueueLocked(proto.JoinRequest{Room: s.opts.Room})
		s.enqueueLocked(proto.HistoryRequest{
			Room:    s.opts.Room,
			AfterID: s.cursor,
			Limit:   s.opts.HistoryLimit,
		})
		return true
	})
	s.log.Info().Str("connection_id", welcome.ConnectionID).Str("user", welcome.User.Name).Msg("connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writeLoop(gctx, conn) })
	g.Go(func() error { return s.readLoop(gctx, conn) })
	g.Go(func() error {
		// Unblock the reader once either loop stops.
		<-gctx.Done()
		return conn.Close()
	})

	err = g.Wait()
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return true, err
}

func (s *Session) writeLoop(ctx context.Context, conn Conn) error {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, in := range batch {
			if err := conn.Write(ctx, in); err != nil {
				return fmt.Errorf("write %s: %w", in.Type, err)
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		out, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.apply(out); err != nil {
			if errors.Is(err, errBackfill) {
				return err
			}
			s.log.Warn().Err(err).Str("event", out.Event).Msg("skip event")
		}
	}
}

// apply folds one server frame into the timeline.
func (s *Session) apply(out proto.RawOutbound) error {
	if out.Type == proto.OutboundTypeError {
		if out.Error != nil {
			s.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("relay error")
		}
		s.mu.Lock()
		ready := s.ready
		s.mu.Unlock()
		if !ready {
			return fmt.Errorf("%w: %v", errBackfill, out.Error)
		}
		return nil
	}

	if out.Event == proto.EventNewMessage || out.Event == proto.EventPresence {
		s.mu.Lock()
		if !s.ready {
			s.held = append(s.held, out)
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return s.applyEvent(out)
}

func (s *Session) applyEvent(out proto.RawOutbound) error {
	switch out.Event {
	case proto.EventNewMessage:
		var msg proto.NewMessage
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			return err
		}
		s.changed(func() bool { return s.timeline.Confirm(msg) })
	case proto.EventPresence:
		var p proto.Presence
		if err := json.Unmarshal(out.Data, &p); err != nil {
			return err
		}
		s.changed(func() bool {
			s.timeline.AddPresence(p)
			return true
		})
	case proto.EventAck:
		var ack proto.Ack
		if err := json.Unmarshal(out.Data, &ack); err != nil {
			return err
		}
		s.changed(func() bool { return s.timeline.Ack(ack) })
	case proto.EventHistory:
		var h proto.History
		if err := json.Unmarshal(out.Data, &h); err != nil {
			return err
		}
		s.changed(func() bool {
			for _, m := range h.Messages {
				s.timeline.Confirm(m)
				s.cursor = max(s.cursor, m.ID)
			}
			s.afterBackfillLocked(len(h.Messages))
			return true
		})
	}
	return nil
}

// afterBackfillLocked pages through a gap and, once it is closed, applies the
// held live events and resends everything still pending.
func (s *Session) afterBackfillLocked(got int) {
	if s.ready {
		return
	}
	if got == s.opts.HistoryLimit && s.cursor > 0 {
		s.enqueueLocked(proto.HistoryRequest{Room: s.opts.Room, AfterID: s.cursor, Limit: s.opts.HistoryLimit})
		return
	}

	s.ready = true
	held := s.held
	s.held = nil
	for _, out := range held {
		s.applyHeldLocked(out)
	}
	for _, m := range s.timeline.Pending() {
		s.enqueueLocked(proto.SendMessageRequest{Room: m.Room, Body: m.Body, ClientMsgID: m.ClientMsgID})
	}
}

// applyHeldLocked folds a live event deferred during backfill into the timeline.
func (s *Session) applyHeldLocked(out proto.RawOutbound) {
	switch out.Event {
	case proto.EventNewMessage:
		var msg proto.NewMessage
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("skip held message")
			return
		}
		s.timeline.Confirm(msg)
	case proto.EventPresence:
		var p proto.Presence
		if err := json.Unmarshal(out.Data, &p); err != nil {
			s.log.Warn().Err(err).Msg("skip held presence")
			return
		}
		s.timeline.AddPresence(p)
	}
}
