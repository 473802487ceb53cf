package session

import (
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// EntryKind distinguishes chat messages from presence notices in the timeline.
type EntryKind int

const (
	EntryMessage EntryKind = iota
	EntryPresence
)

// EntryStatus tracks a message through optimistic echo and confirmation.
type EntryStatus int

const (
	StatusConfirmed EntryStatus = iota
	StatusPending
	StatusFailed
)

func (s EntryStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one line of the rendered conversation.
type Entry struct {
	Kind     EntryKind
	Status   EntryStatus
	Message  proto.NewMessage
	Presence proto.Presence
	Error    *proto.Error
}

// Timeline is the ordered conversation as seen by one client. It is not safe for concurrent use.
type Timeline struct {
	entries []Entry
	// byID and byClientID index message entries.
	byID       map[int64]int
	byClientID map[string]int
	lastID     int64
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		byID:       make(map[int64]int),
		byClientID: make(map[string]int),
	}
}

// AddPending appends an optimistic entry for a message not yet acknowledged.
func (t *Timeline) AddPending(clientMsgID, room, body string, author proto.Author, at time.Time) {
	t.byClientID[clientMsgID] = len(t.entries)
	t.entries = append(t.entries, Entry{
		Kind:   EntryMessage,
		Status: StatusPending,
		Message: proto.NewMessage{
			Author:      author,
			Body:        body,
			Room:        room,
			CreatedAt:   at,
			ClientMsgID: clientMsgID,
		},
	})
}

// Confirm records a server-confirmed message. A pending entry with the same
// client message id is replaced in place; a message id already present is dropped.
// Returns false when nothing changed.
func (t *Timeline) Confirm(msg proto.NewMessage) bool {
	if _, seen := t.byID[msg.ID]; seen {
		return false
	}

	if msg.ClientMsgID != "" {
		if i, ok := t.byClientID[msg.ClientMsgID]; ok && t.entries[i].Message.ID == 0 {
			t.entries[i].Status = StatusConfirmed
			t.entries[i].Message = msg
			t.entries[i].Error = nil
			t.index(i)
			return true
		}
	}

	t.entries = append(t.entries, Entry{Kind: EntryMessage, Status: StatusConfirmed, Message: msg})
	t.index(len(t.entries) - 1)
	return true
}

func (t *Timeline) index(i int) {
	msg := t.entries[i].Message
	t.byID[msg.ID] = i
	if msg.ClientMsgID != "" {
		t.byClientID[msg.ClientMsgID] = i
	}
	t.lastID = max(t.lastID, msg.ID)
}

// Ack applies the author-only acknowledgment for a pending entry.
// Returns false when the entry is unknown or already settled.
func (t *Timeline) Ack(ack proto.Ack) bool {
	i, ok := t.byClientID[ack.ClientMsgID]
	if !ok || t.entries[i].Status != StatusPending {
		return false
	}

	if ack.Status != proto.AckStatusOK {
		t.entries[i].Status = StatusFailed
		t.entries[i].Error = ack.Error
		return true
	}

	msg := t.entries[i].Message
	msg.ID = ack.MessageID
	if ack.CreatedAt != nil {
		msg.CreatedAt = *ack.CreatedAt
	}
	if _, seen := t.byID[msg.ID]; seen {
		// The confirmed copy already sits elsewhere; drop the optimistic one.
		t.remove(i)
		return true
	}
	t.entries[i].Status = StatusConfirmed
	t.entries[i].Message = msg
	t.index(i)
	return true
}

func (t *Timeline) remove(i int) {
	delete(t.byClientID, t.entries[i].Message.ClientMsgID)
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	for id, j := range t.byID {
		if j > i {
			t.byID[id] = j - 1
		}
	}
	for cid, j := range t.byClientID {
		if j > i {
			t.byClientID[cid] = j - 1
		}
	}
}

// AddPresence appends a presence notice inline with messages.
func (t *Timeline) AddPresence(p proto.Presence) {
	t.entries = append(t.entries, Entry{Kind: EntryPresence, Status: StatusConfirmed, Presence: p})
}

// LastID is the highest confirmed message id, the backfill cursor after a reconnect.
func (t *Timeline) LastID() int64 {
	return t.lastID
}

// Pending returns the messages still awaiting confirmation, oldest first.
func (t *Timeline) Pending() []proto.NewMessage {
	var out []proto.NewMessage
	for _, e := range t.entries {
		if e.Kind == EntryMessage && e.Status == StatusPending {
			out = append(out, e.Message)
		}
	}
	return out
}

// Entries returns a copy of the timeline.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
