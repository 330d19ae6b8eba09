// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

func newUpgrader(policy *OriginPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.CheckOrigin,
	}
}

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the HTTP connection, creates a Client
// and registers it with the hub, which launches the client's pumps.
func WebSocketHandler(hub *Hub, policy *OriginPolicy) http.HandlerFunc {
	upgrader := newUpgrader(policy)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if !hub.Register(client) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				deadline())
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chatroom server is running!")
}

// TestPageHandler serves an HTML page that speaks the envelope protocol:
// submit a credential, then chat.
func TestPageHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := fmt.Fprint(w, testPage); err != nil {
			hub.log.Warn("Error writing HTML response", "error", err)
		}
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chatroom WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] {
            width: 300px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chatroom WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="credentialInput" placeholder="Credential (ID token)..." disabled>
        <button id="loginButton" onclick="login()" disabled>Log in</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const credentialInput = document.getElementById('credentialInput');
        const loginButton = document.getElementById('loginButton');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function addChat(message, color) {
            const when = new Date(message.timestamp).toLocaleTimeString();
            addLine('[' + when + '] ' + message.author.name + ': ' + message.text, color || 'green');
        }

        function updateStatus(connected, who) {
            statusDiv.textContent = connected ? (who ? 'Logged in as ' + who : 'Connected') : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            credentialInput.disabled = !connected;
            loginButton.disabled = !connected;
            messageInput.disabled = !who;
            sendButton.disabled = !who;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function handleEnvelope(env) {
            switch (env.type) {
            case 'login-succeeded':
                updateStatus(true, env.identity.name);
                break;
            case 'login-failed':
                addLine('Login failed: ' + env.reason, 'red');
                break;
            case 'history-snapshot':
                env.messages.forEach(m => addChat(m, 'gray'));
                break;
            case 'message-broadcast':
                addChat(env.message);
                break;
            case 'presence-notice':
                addLine(env.notice);
                break;
            default:
                addLine(env.type + ': ' + (env.reason || ''), 'red');
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addLine('Connected to chatroom server');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                try {
                    handleEnvelope(JSON.parse(event.data));
                } catch (e) {
                    addLine('Unreadable frame: ' + event.data, 'red');
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function login() {
            const credential = credentialInput.value.trim();
            if (credential && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'submit-credential', credential: credential}));
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'send-message', text: text}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
