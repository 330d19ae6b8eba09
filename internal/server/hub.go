// Package server coordinates client registration, login, message relay and
// presence for the chatroom via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/history"
	"github.com/Tyrowin/chatroom/internal/identity"
	"github.com/Tyrowin/chatroom/internal/session"
	"github.com/Tyrowin/chatroom/internal/transcript"
)

// Dependencies are the collaborators the hub delegates to.
type Dependencies struct {
	Log        *slog.Logger
	Verifier   identity.Verifier
	History    history.Store
	Transcript *transcript.Dispatcher
	Registry   *session.Registry
	Now        func() time.Time
}

// Hub is the relay. A single goroutine (Run) processes every connection event
// in order; verification and history I/O run elsewhere and report back
// through channels, so a slow provider or store never stalls other clients.
type Hub struct {
	cfg        Config
	log        *slog.Logger
	verifier   identity.Verifier
	registry   *session.Registry
	history    *historyPump
	transcript *transcript.Dispatcher
	now        func() time.Time

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	verified   chan verifyResult
	snapshots  chan snapshotResult

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. Missing dependencies default to an in-memory history,
// no transcript, and a fresh registry; Verifier is required.
func NewHub(cfg Config, deps Dependencies) *Hub {
	cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	store := deps.History
	if store == nil {
		store = history.NewMemoryStore(cfg.HistoryLimit)
	}
	dispatcher := deps.Transcript
	if dispatcher == nil {
		dispatcher = transcript.NewDispatcher(transcript.Nop{}, cfg.SinkTimeout, log)
	}
	registry := deps.Registry
	if registry == nil {
		registry = session.NewRegistry()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	h := &Hub{
		cfg:        cfg,
		log:        log,
		verifier:   deps.Verifier,
		registry:   registry,
		transcript: dispatcher,
		now:        now,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		verified:   make(chan verifyResult),
		snapshots:  make(chan snapshotResult, historyQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.history = newHistoryPump(store, h.snapshots, log)
	return h
}

// Registry exposes the session registry.
func (h *Hub) Registry() *session.Registry {
	return h.registry
}

// ClientCount is the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new connection to the hub, which starts its pumps. It
// returns false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.history.run(h.ctx)
	}()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.disconnect(client)

		case event := <-h.inbound:
			h.handleInbound(event)

		case result := <-h.verified:
			h.completeLogin(result)

		case result := <-h.snapshots:
			h.deliverSnapshot(result)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("Client registered", "conn", client.id, "addr", client.addr, "clients", clientCount)

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleInbound(event inboundEvent) {
	client := event.client
	if !h.isLive(client) {
		return
	}
	if event.err != nil {
		h.log.Warn("Invalid envelope", "conn", client.id, "error", event.err)
		h.sendTo(client, Envelope{Type: TypeError, Reason: ReasonMalformed})
		return
	}

	switch event.envelope.Type {
	case TypeSubmitCredential:
		h.startVerification(client, event.envelope.Credential)
	case TypeSendMessage:
		h.handleChatMessage(client, event.envelope.Text)
	default:
		h.log.Warn("Unknown envelope type", "conn", client.id, "type", event.envelope.Type)
		h.sendTo(client, Envelope{Type: TypeError, Reason: ReasonUnknownType})
	}
}

// startVerification runs the verifier off the loop. The result is re-checked
// against the connection's state when it comes back.
func (h *Hub) startVerification(client *Client, credential string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx := h.ctx
		if h.cfg.VerifyTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.cfg.VerifyTimeout)
			defer cancel()
		}
		id, err := h.verifier.Verify(ctx, credential)

		select {
		case h.verified <- verifyResult{client: client, identity: id, err: err}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) completeLogin(result verifyResult) {
	client := result.client
	if !h.isLive(client) {
		h.log.Debug("Dropping verification result for disconnected client", "conn", client.id)
		return
	}

	if result.err != nil {
		h.log.Warn("Login failed", "conn", client.id, "addr", client.addr, "error", result.err)
		h.sendTo(client, Envelope{Type: TypeLoginFailed, Reason: ReasonVerificationFailed})
		return
	}

	if err := client.lifecycle.LoginSucceeded(h.ctx); err != nil {
		h.log.Warn("Login rejected by connection state", "conn", client.id, "error", err)
		return
	}

	id := result.identity
	id.ConnectionID = client.id
	h.registry.Attach(client.id, id)
	h.log.Info("Client logged in", "conn", client.id, "name", id.Name, "email", id.Email)

	h.sendTo(client, Envelope{Type: TypeLoginSucceeded, Identity: &id})
	if client.closed {
		return
	}
	h.requestSnapshot(client)
	h.broadcast(Envelope{Type: TypePresenceNotice, Notice: chat.JoinedNotice(id)}, client)
}

// requestSnapshot queues a history read. Frames for the client are held back
// until the snapshot is delivered so nothing newer overtakes it.
func (h *Hub) requestSnapshot(client *Client) {
	client.pendingSnapshots++
	if !h.history.requestSnapshot(client) {
		h.log.Warn("History queue full; sending empty snapshot", "conn", client.id)
		h.deliverSnapshot(snapshotResult{client: client, messages: []chat.Message{}})
	}
}

func (h *Hub) deliverSnapshot(result snapshotResult) {
	client := result.client
	if !h.isLive(client) {
		return
	}

	payload, err := encodeEnvelope(Envelope{Type: TypeHistorySnapshot, Messages: result.messages})
	if err != nil {
		h.log.Error("Encoding history snapshot failed", "conn", client.id, "error", err)
		payload, _ = encodeEnvelope(Envelope{Type: TypeHistorySnapshot})
	}

	client.pendingSnapshots--
	ok := h.enqueue(client, payload)
	if ok && client.pendingSnapshots == 0 {
		deferred := client.deferred
		client.deferred = nil
		for _, frame := range deferred {
			if ok = h.enqueue(client, frame); !ok {
				break
			}
		}
	}
	if !ok {
		h.evict(client)
	}
}

func (h *Hub) handleChatMessage(client *Client, text string) {
	if !client.lifecycle.Authenticated() {
		h.log.Debug("Rejecting message from unauthenticated client", "conn", client.id)
		h.sendTo(client, Envelope{Type: TypeMessageRejected, Reason: ReasonNotAuthenticated})
		return
	}

	text = chat.NormalizeText(text)
	if text == "" {
		h.sendTo(client, Envelope{Type: TypeMessageRejected, Reason: ReasonEmptyMessage})
		return
	}

	author, ok := h.registry.Lookup(client.id)
	if !ok {
		h.sendTo(client, Envelope{Type: TypeMessageRejected, Reason: ReasonNotAuthenticated})
		return
	}

	message := chat.NewMessage(author, text, h.now())
	if !h.history.append(message) {
		h.log.Warn("History queue full; message not recorded", "message", message.ID)
	}
	h.transcript.Dispatch(h.ctx, message)
	h.broadcast(Envelope{Type: TypeMessageBroadcast, Message: &message}, nil)
}

// disconnect removes a client and announces the departure if it had logged in.
func (h *Hub) disconnect(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	close(client.send)
	client.deferred = nil

	wasAuthenticated, err := client.lifecycle.Disconnect(h.ctx)
	if err != nil {
		h.log.Warn("Lifecycle disconnect failed", "conn", client.id, "error", err)
	}
	h.log.Info("Client unregistered", "conn", client.id, "addr", client.addr, "clients", clientCount)

	id, attached := h.registry.Lookup(client.id)
	h.registry.Detach(client.id)
	if wasAuthenticated && attached {
		h.broadcast(Envelope{Type: TypePresenceNotice, Notice: chat.LeftNotice(id)}, nil)
	}
}

func (h *Hub) isLive(client *Client) bool {
	if client == nil {
		return false
	}
	h.mutex.RLock()
	_, ok := h.clients[client]
	h.mutex.RUnlock()
	return ok && !client.closed && client.lifecycle.Live()
}

// sendTo delivers one envelope to one client.
func (h *Hub) sendTo(client *Client, env Envelope) {
	payload, err := encodeEnvelope(env)
	if err != nil {
		h.log.Error("Encoding envelope failed", "type", env.Type, "error", err)
		return
	}
	if !h.queue(client, payload) {
		h.evict(client)
	}
}

// broadcast delivers an envelope to every live client except exclude.
func (h *Hub) broadcast(env Envelope, exclude *Client) {
	payload, err := encodeEnvelope(env)
	if err != nil {
		h.log.Error("Encoding broadcast failed", "type", env.Type, "error", err)
		return
	}

	targets := lo.Filter(h.getClientSnapshot(), func(c *Client, _ int) bool { return c != exclude })
	h.log.Debug("Broadcasting", "type", env.Type, "clients", len(targets))

	var failed []*Client
	for _, client := range targets {
		if !h.queue(client, payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// queue respects a pending snapshot by deferring the frame.
func (h *Hub) queue(client *Client, payload []byte) bool {
	if client.closed {
		return true
	}
	if client.pendingSnapshots > 0 {
		if len(client.deferred) >= sendBuffer {
			return false
		}
		client.deferred = append(client.deferred, payload)
		return true
	}
	return h.enqueue(client, payload)
}

func (h *Hub) enqueue(client *Client, payload []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in enqueue", "conn", client.id, "panic", r)
			sent = false
		}
	}()

	if client.closed {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients disconnects clients whose send buffer is full. Their
// departure notices go through the normal disconnect path.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	for _, client := range clientsToRemove {
		h.evict(client)
	}
}

func (h *Hub) evict(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.log.Warn("Client removed due to full send buffer", "conn", client.id, "addr", client.addr)
	h.disconnect(client)
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
		if !client.closed {
			client.closed = true
			close(client.send)
		}
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("Error closing client connection", "conn", client.id, "addr", client.addr, "error", err)
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
