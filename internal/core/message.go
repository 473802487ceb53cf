package core

import (
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const (
	// GeneralRoom is the room used when a command names none.
	GeneralRoom = "general"
	// MaxBodyRunes bounds the length of a message body.
	MaxBodyRunes = 2000
	// MaxRoomRunes bounds the length of a room label.
	MaxRoomRunes = 64
)

// Message is the domain model for a chat message.
type Message struct {
	ID          int64
	Room        string
	AuthorID    int64
	AuthorName  string
	Body        string
	ClientMsgID string
	CreatedAt   time.Time
}

func messageFromStore(m *store.Message) Message {
	return Message{
		ID:          m.ID,
		Room:        m.Room,
		AuthorID:    m.AuthorID,
		AuthorName:  m.AuthorName,
		Body:        m.Body,
		ClientMsgID: m.ClientMsgID,
		CreatedAt:   m.CreatedAt,
	}
}

// NormalizeRoom trims a room label and falls back to GeneralRoom.
func NormalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return GeneralRoom
	}
	return room
}
