package core

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Member is anything that can sit in a room and receive events.
type Member interface {
	MemberID() string
	Deliver(ev *Event) error
}

// PublishResult reports the outcome of one fan-out.
type PublishResult struct {
	Delivered int
	Failed    []*DeliveryError
}

// Registry tracks which members belong to which room.
// A room exists while it has at least one member.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Member
	log   *zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		rooms: make(map[string]map[string]Member),
		log:   logger,
	}
}

// Join adds m to room. Returns false if it was already a member.
func (r *Registry) Join(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Member)
		r.rooms[room] = members
	}
	if _, exists := members[m.MemberID()]; exists {
		return false
	}
	members[m.MemberID()] = m
	return true
}

// Leave removes m from room. Safe to call for non-members.
func (r *Registry) Leave(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[m.MemberID()]; !exists {
		return false
	}
	delete(members, m.MemberID())
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Members returns a snapshot of the room's members in no particular order.
func (r *Registry) Members(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}

// Rooms lists rooms that currently have members.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		rooms = append(rooms, name)
	}
	slices.Sort(rooms)
	return rooms
}

// Broadcast delivers ev to every current member of room.
// A failing member is logged and skipped; the others still receive the event.
func (r *Registry) Broadcast(room string, ev *Event) PublishResult {
	var res PublishResult
	for _, m := range r.Members(room) {
		if err := m.Deliver(ev); err != nil {
			dErr := &DeliveryError{MemberID: m.MemberID(), Room: room, Err: err}
			r.log.Warn().Err(err).Str("room", room).Str("client_id", m.MemberID()).Msg("drop event for member")
			res.Failed = append(res.Failed, dErr)
			continue
		}
		res.Delivered++
	}
	return res
}
