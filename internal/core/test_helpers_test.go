package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for kind %v", kind)
			}
			if ev != nil && ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent fails if an event of kind arrives within the wait window.
func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

// drain discards every event currently buffered.
func drain(ch <-chan *Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

var errStoreDown = errors.New("disk on fire")

// fakeStore is an in-memory MessageStore with failure and latency injection.
type fakeStore struct {
	mu       sync.Mutex
	messages []*store.Message
	names    map[int64]string
	inserts  int
	fail     bool
	// gate, when set, blocks every insert until it is closed.
	gate    chan struct{}
	started chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{names: map[int64]string{1: "alice", 2: "bob", 3: "carol"}}
}

func (s *fakeStore) InsertMessage(ctx context.Context, in store.NewMessage) (*store.Message, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	gate, started := s.gate, s.started
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts++
	if s.fail {
		return nil, false, fmt.Errorf("insert message: %w: %w", store.ErrUnavailable, errStoreDown)
	}
	if in.ClientMsgID != "" {
		for _, m := range s.messages {
			if m.AuthorID == in.AuthorID && m.ClientMsgID == in.ClientMsgID {
				return m, false, nil
			}
		}
	}
	msg := &store.Message{
		ID:          int64(len(s.messages) + 1),
		AuthorID:    in.AuthorID,
		AuthorName:  s.names[in.AuthorID],
		Room:        in.Room,
		Body:        in.Body,
		ClientMsgID: in.ClientMsgID,
		CreatedAt:   time.Unix(0, int64(len(s.messages)+1)).UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, true, nil
}

func (s *fakeStore) ListMessages(_ context.Context, q store.HistoryQuery) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return nil, store.ErrUnavailable
	}
	var out []*store.Message
	for _, m := range s.messages {
		if (q.Room == "" || m.Room == q.Room) && m.ID > q.AfterID {
			out = append(out, m)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		if q.AfterID > 0 {
			out = out[:q.Limit]
		} else {
			out = out[len(out)-q.Limit:]
		}
	}
	return out, nil
}

func (s *fakeStore) CountMessages(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func newTestHub(t *testing.T, st store.MessageStore) *Hub {
	t.Helper()

	hub := NewHub(st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// connect registers a client and consumes its welcome event.
func connect(t *testing.T, hub *Hub, id string, userID int64, name string) *Client {
	t.Helper()

	c := NewClient(id, auth.Identity{UserID: userID, Name: name}, 0)
	hub.RegisterClient(c)
	mustEvent(t, c.Events, EventWelcome)
	return c
}

// joinRoom joins and waits for the client's own presence announcement.
func joinRoom(t *testing.T, c *Client, room string) {
	t.Helper()

	c.Commands <- &Command{Kind: CommandJoinRoom, Room: room}
	ev := mustEvent(t, c.Events, EventPresence)
	if ev.Presence.Kind != PresenceJoin || ev.Presence.ActorID != c.User.UserID {
		t.Fatalf("expected own join presence, got %+v", ev.Presence)
	}
}
