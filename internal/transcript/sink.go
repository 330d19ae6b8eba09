//go:generate go run go.uber.org/mock/mockgen -source=sink.go -destination=../mocks/mock_sink.go -package=mocks

// Package transcript forwards every chat message to an append-only external
// sink. Delivery is best effort: failures are logged and never reach the chat.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Backend names a sink selectable from configuration.
type Backend string

const (
	BackendNone   Backend = "none"
	BackendSQLite Backend = "sqlite"
)

var ErrUnknownBackend = errors.New("unknown transcript backend")

// Sink appends one row per message.
type Sink interface {
	Append(ctx context.Context, message chat.Message) error
	Close() error
}

// Options selects and configures a sink.
type Options struct {
	Backend    Backend
	SQLitePath string
}

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case BackendNone, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Open resolves the configured sink once at startup.
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch opts.Backend {
	case BackendNone, "":
		return Nop{}, nil
	case BackendSQLite:
		return OpenSQLiteSink(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// Nop drops every message.
type Nop struct{}

func (Nop) Append(context.Context, chat.Message) error { return nil }

func (Nop) Close() error { return nil }

// QueueSize bounds the messages waiting for the sink.
const QueueSize = 1024

// Dispatcher hands messages to a sink without blocking the caller. A single
// worker appends them in dispatch order, each append bounded by timeout.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

type job struct {
	ctx     context.Context
	message chat.Message
}

func NewDispatcher(sink Sink, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if sink == nil {
		sink = Nop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: timeout,
		log:     log,
		jobs:    make(chan job, QueueSize),
		done:    make(chan struct{}),
	}
	if _, ok := sink.(Nop); ok {
		d.closed = true
		close(d.done)
		return d
	}
	go d.run()
	return d
}

// Dispatch returns immediately. ctx is the parent of the append's timeout.
// When the queue is full the message is dropped from the transcript.
func (d *Dispatcher) Dispatch(ctx context.Context, message chat.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- job{ctx: context.WithoutCancel(ctx), message: message}:
	default:
		d.log.Warn("Transcript queue full; dropping message", "message", message.ID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.jobs {
		d.append(j)
	}
}

func (d *Dispatcher) append(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	if err := d.sink.Append(ctx, j.message); err != nil {
		d.log.Warn("Transcript append failed", "message", j.message.ID, "error", err)
	}
}

// Close drains queued messages and closes the sink. Later dispatches are
// ignored.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	<-d.done
	return d.sink.Close()
}
