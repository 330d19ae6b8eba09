//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_history_store.go -package=mocks

// Package history keeps the bounded log of recent chat messages that is
// replayed to participants when they log in.
//
// Every backing keeps at most Limit messages and evicts the oldest entry first.
// Recent always returns messages oldest-first, in the order they were appended.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Backend names a history backing selectable from configuration.
type Backend string

const (
	BackendNone   Backend = "none"
	BackendMemory Backend = "memory"
	BackendBadger Backend = "badger"
	BackendRedis  Backend = "redis"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown history backend")

// Store is a bounded, append-only log of recent messages.
type Store interface {
	Append(ctx context.Context, message chat.Message) error
	Recent(ctx context.Context) ([]chat.Message, error)
	Close() error
}

// Options selects and configures a backing.
type Options struct {
	Backend       Backend
	Limit         int
	BadgerPath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case BackendNone, BackendMemory, BackendBadger, BackendRedis:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Open resolves the configured backing once at startup.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Store, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = chat.DefaultHistoryLimit
	}

	switch opts.Backend {
	case BackendNone:
		return Nop{}, nil
	case BackendMemory, "":
		return NewMemoryStore(limit), nil
	case BackendBadger:
		return OpenBadgerStore(opts.BadgerPath, limit, log)
	case BackendRedis:
		return OpenRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Key:      opts.RedisKey,
		}, limit, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// Nop discards appends and never has history to replay.
type Nop struct{}

func (Nop) Append(context.Context, chat.Message) error { return nil }

func (Nop) Recent(context.Context) ([]chat.Message, error) { return []chat.Message{}, nil }

func (Nop) Close() error { return nil }
