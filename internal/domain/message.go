package domain

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// clientTimestampLayout is the wire format for client-supplied timestamps:
// "YYYY-MM-DD HH:MM:SS AM/PM".
const clientTimestampLayout = "2006-01-02 03:04:05 PM"

const midAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const midLength = 8

// MessageEnvelope is the authoritative representation of one chat message,
// both on the wire and in the tail cache. Every field is populated by the
// time the envelope leaves the broadcaster toward a client.
type MessageEnvelope struct {
	MID       string    `json:"mid"`
	UID       uuid.UUID `json:"uid"`
	Username  string    `json:"username"`
	RoomID    uuid.UUID `json:"room_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
}

// IncomingMessage is what a client sends on /message/{room_id}.
type IncomingMessage struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// NewMID generates an 8-character lowercase-alphanumeric message id.
// Collisions are acceptable at this volume (36^8 space); the durable
// store's primary key constraint is the backstop, not this generator.
func NewMID() string {
	buf := make([]byte, midLength)
	_, _ = rand.Read(buf)
	out := make([]byte, midLength)
	for i, b := range buf {
		out[i] = midAlphabet[int(b)%len(midAlphabet)]
	}
	return string(out)
}

// ParseClientTimestamp parses the wire timestamp format. On failure the
// Digestion Broker substitutes the server's current time and continues —
// a malformed timestamp never drops a message.
func ParseClientTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(clientTimestampLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatServerTimestamp renders a time.Time in the wire format, used when
// the server assigns the timestamp instead of the client.
func FormatServerTimestamp(t time.Time) string {
	return t.Format(clientTimestampLayout)
}

// PersistedMessage is the normalized record the Digestion Broker inserts
// into the per-room message table.
type PersistedMessage struct {
	ID        string
	RoomID    uuid.UUID
	ChannelID uuid.UUID
	SenderID  uuid.UUID
	Message   string
	Timestamp time.Time
}

// Channel describes a sub-topic inside a room.
type Channel struct {
	ID                 uuid.UUID `json:"id"`
	RoomID             uuid.UUID `json:"room_id"`
	ChannelName        string    `json:"channel_name"`
	ChannelDescription string    `json:"channel_description"`
	Author             uuid.UUID `json:"author"`
	TimeCreated        time.Time `json:"time_created"`
}
