// Package events defines the event types published by the server core.
package events

import "time"

// EventType names an event published through the EventBus.
type EventType string

const (
	// Control connection events
	EventConnectionOpened EventType = "connection.opened"
	EventMagicReceived    EventType = "magic.received"
	EventPacketReceived   EventType = "packet.received"
	EventConnectionClosed EventType = "connection.closed"

	// Transfer lifecycle events
	EventTransferStarted   EventType = "transfer.started"
	EventTransferCompleted EventType = "transfer.completed"
	EventTransferAborted   EventType = "transfer.aborted"
	EventTransferTimedOut  EventType = "transfer.timed_out"

	// Session events
	EventUserLogin  EventType = "user.login"
	EventUserChange EventType = "user.change"
	EventUserLeave  EventType = "user.leave"
	EventUserKicked EventType = "user.kicked"

	// Chat events
	EventChatPublic EventType = "chat.public"
	EventBroadcast  EventType = "chat.broadcast"
	EventNewsPosted EventType = "news.posted"
)

// AllEventTypes lists every event type, in publication order of a typical session.
var AllEventTypes = []EventType{
	EventConnectionOpened,
	EventMagicReceived,
	EventPacketReceived,
	EventConnectionClosed,
	EventTransferStarted,
	EventTransferCompleted,
	EventTransferAborted,
	EventTransferTimedOut,
	EventUserLogin,
	EventUserChange,
	EventUserLeave,
	EventUserKicked,
	EventChatPublic,
	EventBroadcast,
	EventNewsPosted,
}

// Event is a single message on the bus. Payloads are value copies so
// subscribers never share mutable server state.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload"`
}

// ConnectionPayload describes a control connection.
type ConnectionPayload struct {
	ConnID uint64 `json:"conn_id"`
	UID    uint16 `json:"uid"`
	Addr   string `json:"addr"`
}

// MagicPayload carries the handshake bytes a peer sent.
type MagicPayload struct {
	ConnID uint64 `json:"conn_id"`
	Addr   string `json:"addr"`
	Magic  []byte `json:"magic"`
	Valid  bool   `json:"valid"`
}

// PacketPayload summarizes a decoded packet.
type PacketPayload struct {
	UID     uint16 `json:"uid"`
	Kind    uint32 `json:"kind"`
	Seq     uint32 `json:"seq"`
	Objects int    `json:"objects"`
}

// TransferPayload describes a file transfer at the time of the event.
type TransferPayload struct {
	ID          uint32  `json:"id"`
	Incoming    bool    `json:"incoming"`
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	OwnerUID    uint16  `json:"owner_uid"`
	OwnerLogin  string  `json:"owner_login"`
	OwnerNick   string  `json:"owner_nick"`
	OwnerAddr   string  `json:"owner_addr"`
	Total       uint64  `json:"total"`
	Transferred uint64  `json:"transferred"`
	Complete    bool    `json:"complete"`
	Started     bool    `json:"started"`
	BytesPerSec float64 `json:"bytes_per_sec"`
}

// UserPayload describes a logged in user.
type UserPayload struct {
	UID     uint16 `json:"uid"`
	Nick    string `json:"nick"`
	OldNick string `json:"old_nick,omitempty"`
	Login   string `json:"login"`
	Addr    string `json:"addr"`
	Icon    uint16 `json:"icon"`
	Status  uint16 `json:"status"`
}

// ChatPayload carries one line of chat.
type ChatPayload struct {
	UID    uint16 `json:"uid"`
	Nick   string `json:"nick"`
	Login  string `json:"login"`
	ChatID uint32 `json:"chat_id"`
	Emote  bool   `json:"emote"`
	Text   string `json:"text"`
}

// NewsPayload carries a freshly posted news article.
type NewsPayload struct {
	ID    int64  `json:"id"`
	Nick  string `json:"nick"`
	Login string `json:"login"`
	Body  string `json:"body"`
}
