package core

import (
	"context"
	"slices"
	"sync"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
)

const (
	defaultCommandBuffer = 8
	defaultEventBuffer   = 64
)

// Client is one live connection as seen by the core layer.
type Client struct {
	ID       string
	User     auth.Identity
	Commands chan *Command
	Events   chan *Event

	// membership serializes room joins and leaves with close, so the registry
	// never keeps a closed client and presence for it stays in order.
	membership sync.Mutex

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
	done   chan struct{}
}

// NewClient constructs a client with initialized channels.
// eventBuffer <= 0 selects the default outbound buffer size.
func NewClient(id string, user auth.Identity, eventBuffer int) *Client {
	if user.Name == "" {
		user.Name = id
	}
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	return &Client{
		ID:       id,
		User:     user,
		Commands: make(chan *Command, defaultCommandBuffer),
		Events:   make(chan *Event, eventBuffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// MemberID implements Member.
func (c *Client) MemberID() string { return c.ID }

// Deliver queues an event without blocking.
func (c *Client) Deliver(ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Events <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Submit hands a command to the hub, giving up when ctx ends or the client is closed.
func (c *Client) Submit(ctx context.Context, cmd *Command) error {
	select {
	case c.Commands <- cmd:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Rooms returns the joined rooms in sorted order.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return rooms
}

func (c *Client) addRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Client) removeRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	return true
}

// close marks the client closed, closes Events and returns the rooms it was in.
func (c *Client) close() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	close(c.Events)

	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	c.rooms = make(map[string]struct{})
	return rooms
}
