package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/server"
)

type mockConn struct {
	writes   []interface{}
	writeErr error
}

func (m *mockConn) WriteJSON(v interface{}) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, v)
	return nil
}

func (m *mockConn) ReadJSON(v interface{}) error { return nil }
func (m *mockConn) Close() error                 { return nil }

func newTestClient(conn wsConn) (*wsClient, *bytes.Buffer) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newWSClient(conn, &out, logger), &out
}

func TestLoginSendsCredential(t *testing.T) {
	conn := &mockConn{}
	client, _ := newTestClient(conn)

	require.NoError(t, client.login("token-abc"))
	require.Len(t, conn.writes, 1)

	env, ok := conn.writes[0].(server.Envelope)
	require.True(t, ok, "expected server.Envelope, got %T", conn.writes[0])
	require.Equal(t, server.TypeSubmitCredential, env.Type)
	require.Equal(t, "token-abc", env.Credential)
}

func TestLoginPropagatesWriteError(t *testing.T) {
	conn := &mockConn{writeErr: errors.New("boom")}
	client, _ := newTestClient(conn)

	require.ErrorContains(t, client.login("x"), "boom")
}

func TestSendMessageRequiresLogin(t *testing.T) {
	conn := &mockConn{}
	client, _ := newTestClient(conn)

	require.ErrorIs(t, client.sendMessage("hi"), errNotLoggedIn)
	require.Empty(t, conn.writes)
}

func TestSendMessageAfterLogin(t *testing.T) {
	conn := &mockConn{}
	client, out := newTestClient(conn)

	client.handleEnvelope(server.Envelope{
		Type:     server.TypeLoginSucceeded,
		Identity: &chat.Identity{Name: "Ann", ConnectionID: "c1"},
	})
	require.Contains(t, out.String(), "logged in as Ann")

	require.NoError(t, client.sendMessage("hello"))
	require.Len(t, conn.writes, 1)
	env := conn.writes[0].(server.Envelope)
	require.Equal(t, server.TypeSendMessage, env.Type)
	require.Equal(t, "hello", env.Text)
}

func TestHandleEnvelopeRendersEvents(t *testing.T) {
	client, out := newTestClient(&mockConn{})
	client.self.Store(&chat.Identity{Name: "Ann", ConnectionID: "c1"})

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client.handleEnvelope(server.Envelope{Type: server.TypeHistorySnapshot, Messages: []chat.Message{
		chat.NewMessage(chat.Identity{Name: "Bob"}, "earlier", at),
	}})
	own := chat.NewMessage(chat.Identity{Name: "Ann", ConnectionID: "c1"}, "mine", at)
	client.handleEnvelope(server.Envelope{Type: server.TypeMessageBroadcast, Message: &own})
	client.handleEnvelope(server.Envelope{Type: server.TypePresenceNotice, Notice: "Bob left the chat"})
	client.handleEnvelope(server.Envelope{Type: server.TypeMessageRejected, Reason: server.ReasonEmptyMessage})

	rendered := out.String()
	require.Contains(t, rendered, "earlier")
	require.Contains(t, rendered, "Bob")
	require.Contains(t, rendered, "[you]")
	require.Contains(t, rendered, "mine")
	require.Contains(t, rendered, "Bob left the chat")
	require.Contains(t, rendered, server.ReasonEmptyMessage)
}

func TestEmptyHistorySnapshot(t *testing.T) {
	client, out := newTestClient(&mockConn{})

	client.handleEnvelope(server.Envelope{Type: server.TypeHistorySnapshot})

	require.Contains(t, out.String(), "no earlier messages")
}

func TestInputLoopSkipsBlankLines(t *testing.T) {
	conn := &mockConn{}
	client, _ := newTestClient(conn)
	client.self.Store(&chat.Identity{Name: "Ann"})

	client.inputLoop(t.Context(), strings.NewReader("first\n\n   \nsecond\n"))

	require.Len(t, conn.writes, 2)
	require.Equal(t, "first", conn.writes[0].(server.Envelope).Text)
	require.Equal(t, "second", conn.writes[1].(server.Envelope).Text)
}

// chunkReader hands out one chunk per Read and calls before(i) first.
type chunkReader struct {
	chunks []string
	before func(i int)
	next   int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.next >= len(r.chunks) {
		return 0, io.EOF
	}
	if r.before != nil {
		r.before(r.next)
	}
	n := copy(p, r.chunks[r.next])
	r.next++
	return n, nil
}

func TestInputLoopSurvivesLinesTypedBeforeLogin(t *testing.T) {
	conn := &mockConn{}
	client, out := newTestClient(conn)

	in := &chunkReader{
		chunks: []string{"typed before ack\n", "second line after ack\n"},
		before: func(i int) {
			if i == 1 {
				client.self.Store(&chat.Identity{Name: "Ann"})
			}
		},
	}
	client.inputLoop(t.Context(), in)

	require.Contains(t, out.String(), "not logged in yet")
	require.Contains(t, out.String(), "typed before ack")
	require.Len(t, conn.writes, 1)
	require.Equal(t, "second line after ack", conn.writes[0].(server.Envelope).Text)
}

func TestInputLoopStopsOnWriteError(t *testing.T) {
	conn := &mockConn{writeErr: errors.New("broken pipe")}
	client, _ := newTestClient(conn)
	client.self.Store(&chat.Identity{Name: "Ann"})

	in := &chunkReader{chunks: []string{"one\n", "two\n"}}
	client.inputLoop(t.Context(), in)

	require.Equal(t, 1, in.next, "loop returns after the first failed write")
}
