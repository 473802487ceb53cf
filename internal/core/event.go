package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventWelcome is sent once to a freshly registered connection.
	EventWelcome EventKind = iota
	// EventRoomMessage notifies clients about a chat message in a room.
	EventRoomMessage
	// EventPresence notifies clients about a participant joining or leaving a room.
	EventPresence
	// EventAck reports the outcome of a send to its sender.
	EventAck
	// EventHistory delivers stored messages to the requesting client.
	EventHistory
	// EventError notifies clients about a domain error.
	EventError
)

// PresenceKind distinguishes arrivals from departures.
type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	Message  Message
	Messages []Message // EventHistory
	Presence *Presence
	Ack      *Ack
	Welcome  *Welcome
	Error    *CoreError
}

// Presence is a transient join/leave notification.
type Presence struct {
	Room        string
	Kind        PresenceKind
	ActorID     int64
	ActorName   string
	Description string
	At          time.Time
}

// Ack is the per-message acknowledgment sent to the author only.
type Ack struct {
	ClientMsgID string
	OK          bool
	MessageID   int64
	CreatedAt   time.Time
	Duplicate   bool
	Error       *CoreError
}

// Welcome describes the connection to its own client.
type Welcome struct {
	ConnectionID string
	UserID       int64
	UserName     string
	DefaultRoom  string
}

func presenceDescription(kind PresenceKind, name string) string {
	if kind == PresenceJoin {
		return name + " joined the chat"
	}
	return name + " left the chat"
}
