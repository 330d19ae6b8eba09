package history

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatroom/internal/chat"
)

type storeFactory func(t *testing.T, limit int) Store

func backings() map[string]storeFactory {
	log := logs.GetLoggerFromLevel(slog.LevelError)
	return map[string]storeFactory{
		"memory": func(_ *testing.T, limit int) Store {
			return NewMemoryStore(limit)
		},
		"badger": func(t *testing.T, limit int) Store {
			db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
			require.NoError(t, err)
			store, err := NewBadgerStore(db, limit, log)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"redis": func(t *testing.T, limit int) Store {
			server := miniredis.RunT(t)
			store := NewRedisStore(redis.NewClient(&redis.Options{Addr: server.Addr()}), "", limit, log)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func numbered(n int) []chat.Message {
	author := chat.Identity{Name: "Ann", Email: "a@x.io"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]chat.Message, n)
	for i := range out {
		out[i] = chat.NewMessage(author, fmt.Sprintf("message %d", i), at.Add(time.Duration(i)*time.Second))
	}
	return out
}

func texts(messages []chat.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Text
	}
	return out
}

func TestStore_EmptyHistory(t *testing.T) {
	for name, open := range backings() {
		t.Run(name, func(t *testing.T) {
			recent, err := open(t, 50).Recent(context.Background())
			require.NoError(t, err)
			require.Empty(t, recent)
		})
	}
}

func TestStore_LengthIsMinOfLimitAndAppended(t *testing.T) {
	ctx := context.Background()
	for name, open := range backings() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := open(t, 50)
			for i, m := range numbered(120) {
				req.NoError(store.Append(ctx, m))
				recent, err := store.Recent(ctx)
				req.NoError(err)
				req.Len(recent, min(50, i+1))
			}
		})
	}
}

func TestStore_EvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	for name, open := range backings() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := open(t, 50)
			all := numbered(51)
			for _, m := range all {
				req.NoError(store.Append(ctx, m))
			}

			recent, err := store.Recent(ctx)
			req.NoError(err)
			req.Equal(texts(all[1:]), texts(recent))
			req.NotContains(texts(recent), all[0].Text)
		})
	}
}

func TestStore_PreservesMessageFields(t *testing.T) {
	ctx := context.Background()
	for name, open := range backings() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := open(t, 3)
			msg := numbered(1)[0]
			msg.Author.Picture = "https://example.com/ann.png"
			msg.Author.ConnectionID = "conn-1"
			req.NoError(store.Append(ctx, msg))

			recent, err := store.Recent(ctx)
			req.NoError(err)
			req.Len(recent, 1)
			req.Equal(msg.ID, recent[0].ID)
			req.Equal(msg.Author, recent[0].Author)
			req.True(msg.Timestamp.Equal(recent[0].Timestamp))
		})
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	log := logs.GetLoggerFromLevel(slog.LevelError)

	store, err := OpenBadgerStore(dir, 2, log)
	req.NoError(err)
	all := numbered(3)
	for _, m := range all {
		req.NoError(store.Append(ctx, m))
	}
	req.NoError(store.Close())

	reopened, err := OpenBadgerStore(dir, 2, log)
	req.NoError(err)
	defer reopened.Close()

	req.NoError(reopened.Append(ctx, chat.NewMessage(chat.Identity{Name: "Bob"}, "after restart", time.Now())))
	recent, err := reopened.Recent(ctx)
	req.NoError(err)
	req.Equal([]string{all[2].Text, "after restart"}, texts(recent))
}

func TestRedisStore_SharedBetweenInstances(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	server := miniredis.RunT(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)

	first, err := OpenRedisStore(ctx, RedisOptions{Addr: server.Addr(), Key: "room"}, 50, log)
	req.NoError(err)
	defer first.Close()
	second, err := OpenRedisStore(ctx, RedisOptions{Addr: server.Addr(), Key: "room"}, 50, log)
	req.NoError(err)
	defer second.Close()

	all := numbered(2)
	req.NoError(first.Append(ctx, all[0]))
	req.NoError(second.Append(ctx, all[1]))

	recent, err := first.Recent(ctx)
	req.NoError(err)
	req.Equal(texts(all), texts(recent))
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := OpenRedisStore(context.Background(), RedisOptions{Addr: addr}, 50, logs.GetLoggerFromLevel(slog.LevelError))
	require.Error(t, err)
}

func TestOpen_SelectsBacking(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelError)

	store, err := Open(ctx, Options{Backend: BackendNone}, log)
	req.NoError(err)
	req.IsType(Nop{}, store)
	req.NoError(store.Append(ctx, numbered(1)[0]))
	recent, err := store.Recent(ctx)
	req.NoError(err)
	req.Empty(recent)

	store, err = Open(ctx, Options{Backend: BackendMemory}, log)
	req.NoError(err)
	req.IsType(&MemoryStore{}, store)

	_, err = Open(ctx, Options{Backend: "sheets"}, log)
	req.ErrorIs(err, ErrUnknownBackend)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("redis")
	require.NoError(t, err)
	require.Equal(t, BackendRedis, b)

	_, err = ParseBackend("postgres")
	require.ErrorIs(t, err, ErrUnknownBackend)
}
