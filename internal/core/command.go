package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendRoomMessage persists a chat message and delivers it to room participants.
	CommandSendRoomMessage CommandKind = iota
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandHistory requests stored messages of a room.
	CommandHistory
)

func (k CommandKind) String() string {
	switch k {
	case CommandSendRoomMessage:
		return "send_message"
	case CommandJoinRoom:
		return "join"
	case CommandLeaveRoom:
		return "leave"
	case CommandHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind
	Room string

	// CommandSendRoomMessage
	Body        string
	ClientMsgID string

	// CommandHistory
	AfterID int64
	Limit   int
}

// Result is what the hub reports back for a handled command.
type Result struct {
	// Changed is false when a join or leave was a no-op.
	Changed bool
	// Message is the persisted message for CommandSendRoomMessage.
	Message *Message
	// Duplicate is set when the message was already stored under the same ClientMsgID.
	Duplicate bool
	// Delivered counts members that received the broadcast.
	Delivered int
	// Messages holds history for CommandHistory.
	Messages []Message
}
