// Package chat defines the identities and messages relayed between chatroom
// participants.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit is the number of recent messages kept and replayed to
// newly authenticated participants.
const DefaultHistoryLimit = 50

// Identity is a verified participant. Email is the stable key across
// reconnects, ConnectionID changes every time the participant reconnects.
type Identity struct {
	Name         string `json:"name" validate:"required"`
	Picture      string `json:"picture,omitempty" validate:"omitempty,url"`
	Email        string `json:"email" validate:"omitempty,email"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// Message is an immutable chat line authored by a verified participant.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Author    Identity  `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message from a snapshot of the author's identity.
func NewMessage(author Identity, text string, at time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Author:    author,
		Text:      text,
		Timestamp: at.UTC(),
	}
}

// NormalizeText trims surrounding whitespace from a chat line.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// JoinedNotice is the presence text broadcast when a participant logs in.
func JoinedNotice(identity Identity) string {
	return fmt.Sprintf("%s joined the chat", identity.Name)
}

// LeftNotice is the presence text broadcast when a participant disconnects.
func LeftNotice(identity Identity) string {
	return fmt.Sprintf("%s left the chat", identity.Name)
}
