package history

import (
	"context"
	"sync"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// MemoryStore keeps recent messages in process memory. It is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	limit    int
	messages []chat.Message
}

// NewMemoryStore creates an empty in-process log bounded to limit entries.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = chat.DefaultHistoryLimit
	}
	return &MemoryStore{
		limit:    limit,
		messages: make([]chat.Message, 0, limit),
	}
}

// Append adds the message as the newest entry and evicts the oldest surplus.
func (s *MemoryStore) Append(_ context.Context, message chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, message)
	if surplus := len(s.messages) - s.limit; surplus > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(s.messages, s.messages[surplus:])
		clear(s.messages[n:])
		s.messages = s.messages[:n]
	}
	return nil
}

// Recent returns a copy of the log, oldest first.
func (s *MemoryStore) Recent(context.Context) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
