package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatroom/internal/chat"
)

var (
	badgerPrefix   = []byte("history:msg:")
	badgerSequence = []byte("history:seq")
)

// BadgerStore persists the log in an embedded BadgerDB so it survives restarts.
//
// Keys are "history:msg:" followed by a big-endian sequence number, so a prefix
// scan yields messages in append order. Append writes the message and then trims
// in a second transaction; a crash in between can leave more than limit entries
// until the next append.
type BadgerStore struct {
	db    *badger.DB
	seq   *badger.Sequence
	limit int
	log   *slog.Logger
}

// OpenBadgerStore opens (or creates) the database at path.
func OpenBadgerStore(path string, limit int, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger history at %q: %w", path, err)
	}
	store, err := NewBadgerStore(db, limit, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewBadgerStore wraps an already opened database. Close releases the
// sequence and closes db.
func NewBadgerStore(db *badger.DB, limit int, log *slog.Logger) (*BadgerStore, error) {
	if limit <= 0 {
		limit = chat.DefaultHistoryLimit
	}
	seq, err := db.GetSequence(badgerSequence, 64)
	if err != nil {
		return nil, fmt.Errorf("lease history sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, limit: limit, log: log}, nil
}

func badgerKey(n uint64) []byte {
	key := make([]byte, len(badgerPrefix)+8)
	copy(key, badgerPrefix)
	binary.BigEndian.PutUint64(key[len(badgerPrefix):], n)
	return key
}

// Append stores the message as the newest entry, then trims the oldest surplus.
func (s *BadgerStore) Append(_ context.Context, message chat.Message) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next history sequence: %w", err)
	}
	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.ID, err)
	}
	if err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(n), value)
	}); err != nil {
		return fmt.Errorf("store message %s: %w", message.ID, err)
	}
	return s.trim()
}

func (s *BadgerStore) trim() error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		surplus := len(keys) - s.limit
		for i := 0; i < surplus; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		if surplus > 0 {
			s.log.Debug("Trimmed history", "evicted", surplus)
		}
		return nil
	})
}

// Recent scans backwards from the newest key and returns up to limit
// messages, oldest first.
func (s *BadgerStore) Recent(context.Context) ([]chat.Message, error) {
	var raw [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(slices.Clone(badgerPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(badgerPrefix) && len(raw) < s.limit; it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			raw = append(raw, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	slices.Reverse(raw)
	return decodeMessages(raw, s.log), nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("Releasing history sequence failed", "error", err)
	}
	return s.db.Close()
}

// decodeMessages skips entries that cannot be decoded instead of failing the
// whole snapshot.
func decodeMessages(raw [][]byte, log *slog.Logger) []chat.Message {
	return lo.FilterMap(raw, func(value []byte, _ int) (chat.Message, bool) {
		var message chat.Message
		if err := json.Unmarshal(value, &message); err != nil {
			log.Warn("Skipping undecodable history entry", "error", err)
			return chat.Message{}, false
		}
		return message, true
	})
}
