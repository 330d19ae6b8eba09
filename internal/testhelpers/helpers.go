// Package testhelpers provides common utilities for testing the chatroom server.
//
// It starts a relay behind httptest, dials WebSocket clients with an allowed
// origin, and reads and asserts protocol envelopes, so test files do not
// repeat the plumbing.
package testhelpers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatroom/internal/identity"
	"github.com/Tyrowin/chatroom/internal/server"
)

// Origin is the origin every relay started by StartRelay allows.
const Origin = "http://localhost:8080"

// DefaultTimeout bounds every read performed by these helpers.
const DefaultTimeout = 2 * time.Second

// Relay is a running hub behind an httptest server.
type Relay struct {
	Hub    *server.Hub
	Server *httptest.Server
	WSURL  string
}

// StartRelay starts a hub and serves the application routes. Without a
// verifier the relay trusts credentials as display names. Both are shut down
// when the test ends.
func StartRelay(t *testing.T, cfg *server.Config, deps server.Dependencies) *Relay {
	t.Helper()

	if cfg == nil {
		cfg = server.NewConfig()
	}
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = Origin
	}
	if deps.Verifier == nil {
		deps.Verifier = identity.InsecureVerifier{}
	}
	if deps.Log == nil {
		deps.Log = logs.GetLoggerFromLevel(slog.LevelDebug)
	}

	hub := server.NewHub(*cfg, deps)
	go hub.Run()

	policy := server.NewOriginPolicy(cfg.Origins(), deps.Log)
	testServer := httptest.NewServer(server.SetupRoutes(hub, policy))

	t.Cleanup(func() {
		_ = hub.Shutdown(5 * time.Second)
		testServer.Close()
	})

	return &Relay{
		Hub:    hub,
		Server: testServer,
		WSURL:  "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws",
	}
}

// ConnectWebSocket creates a WebSocket connection with the given origin.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Dial connects a client to the relay and closes it when the test ends.
func Dial(t *testing.T, relay *Relay) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(relay.WSURL, Origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes one envelope.
func Send(t *testing.T, conn *websocket.Conn, env server.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

// Login submits a credential and consumes the login-succeeded and
// history-snapshot envelopes, returning both.
func Login(t *testing.T, conn *websocket.Conn, credential string) (server.Envelope, server.Envelope) {
	t.Helper()

	Send(t, conn, server.Envelope{Type: server.TypeSubmitCredential, Credential: credential})
	succeeded := Expect(t, conn, server.TypeLoginSucceeded)
	snapshot := Expect(t, conn, server.TypeHistorySnapshot)
	return succeeded, snapshot
}

// SendText sends a send-message envelope.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	Send(t, conn, server.Envelope{Type: server.TypeSendMessage, Text: text})
}

// ReadEnvelope reads and decodes the next frame.
func ReadEnvelope(conn *websocket.Conn, timeout time.Duration) (server.Envelope, error) {
	var env server.Envelope
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(raw, &env)
	return env, err
}

// Expect reads the next envelope and requires its type.
func Expect(t *testing.T, conn *websocket.Conn, typ string) server.Envelope {
	t.Helper()

	env, err := ReadEnvelope(conn, DefaultTimeout)
	require.NoError(t, err, "waiting for %s", typ)
	require.Equal(t, typ, env.Type, "unexpected envelope: %+v", env)
	return env
}

// ExpectNoEnvelope requires that nothing arrives within d. A read timeout
// leaves the connection unusable, so call it last on a connection.
func ExpectNoEnvelope(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	env, err := ReadEnvelope(conn, d)
	require.Error(t, err, "unexpected envelope: %+v", env)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

// ExpectClosed requires the server to close the connection within d.
func ExpectClosed(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		_, err := ReadEnvelope(conn, time.Until(deadline))
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			break
		}
		return
	}
	t.Fatalf("connection still open after %s", d)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}
