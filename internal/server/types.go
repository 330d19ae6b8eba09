// Package server defines the envelope exchanged over the chat WebSocket and
// utility helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Envelope types. Client-to-server: submit-credential, send-message.
const (
	TypeSubmitCredential = "submit-credential"
	TypeSendMessage      = "send-message"
	TypeLoginSucceeded   = "login-succeeded"
	TypeLoginFailed      = "login-failed"
	TypeHistorySnapshot  = "history-snapshot"
	TypeMessageBroadcast = "message-broadcast"
	TypePresenceNotice   = "presence-notice"
	TypeMessageRejected  = "message-rejected"
	TypeError            = "error"
)

// Rejection and error reasons sent back to a single connection.
const (
	ReasonVerificationFailed = "verification failed"
	ReasonNotAuthenticated   = "not authenticated"
	ReasonEmptyMessage       = "empty message"
	ReasonMalformed          = "malformed envelope"
	ReasonUnknownType        = "unknown envelope type"
)

// Envelope is one JSON text frame. Only the fields relevant to Type are set.
type Envelope struct {
	Type       string         `json:"type"`
	Credential string         `json:"credential,omitempty"`
	Text       string         `json:"text,omitempty"`
	Identity   *chat.Identity `json:"identity,omitempty"`
	Messages   []chat.Message `json:"messages,omitempty"`
	Message    *chat.Message  `json:"message,omitempty"`
	Notice     string         `json:"notice,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// inboundEvent is a frame read by a client pump, handed to the hub loop.
type inboundEvent struct {
	client   *Client
	envelope Envelope
	err      error
}

type verifyResult struct {
	client   *Client
	identity chat.Identity
	err      error
}

type snapshotResult struct {
	client   *Client
	messages []chat.Message
}

// MarshalJSON always writes the messages array of a history-snapshot, empty
// included, and omits it everywhere else.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Type != TypeHistorySnapshot {
		return json.Marshal(plain(e))
	}
	messages := e.Messages
	if messages == nil {
		messages = []chat.Message{}
	}
	return json.Marshal(struct {
		plain
		Messages []chat.Message `json:"messages"`
	}{plain(e), messages})
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
