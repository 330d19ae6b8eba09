package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/mocks"
)

func annSays(text string) chat.Message {
	return chat.NewMessage(chat.Identity{Name: "Ann", Email: "a@x.io"}, text, time.Now())
}

func TestSQLiteSink_AppendsRowsInOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	sink, err := OpenSQLiteSink(ctx, filepath.Join(t.TempDir(), "transcript.db"))
	req.NoError(err)
	defer sink.Close()

	first, second := annSays("hi"), annSays("still here")
	req.NoError(sink.Append(ctx, first))
	req.NoError(sink.Append(ctx, second))

	rows, err := sink.Rows(ctx)
	req.NoError(err)
	req.Len(rows, 2)
	req.Equal(first.ID.String(), rows[0].MessageID)
	req.Equal("Ann", rows[0].AuthorName)
	req.Equal("a@x.io", rows[0].AuthorEmail)
	req.Equal("hi", rows[0].Text)
	req.True(first.Timestamp.Equal(rows[0].SentAt))
	req.Equal("still here", rows[1].Text)
}

func TestSQLiteSink_KeepsRowsAcrossReopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transcript.db")

	sink, err := OpenSQLiteSink(ctx, path)
	req.NoError(err)
	req.NoError(sink.Append(ctx, annSays("before")))
	req.NoError(sink.Close())

	sink, err = OpenSQLiteSink(ctx, path)
	req.NoError(err)
	defer sink.Close()
	rows, err := sink.Rows(ctx)
	req.NoError(err)
	req.Len(rows, 1)
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	msg := annSays("hi")
	done := make(chan struct{})
	sink.EXPECT().Append(gomock.Any(), msg).DoAndReturn(func(ctx context.Context, _ chat.Message) error {
		_, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline)
		close(done)
		return nil
	}).Times(1)
	sink.EXPECT().Close().Return(nil).Times(1)

	d := NewDispatcher(sink, time.Second, log)
	d.Dispatch(context.Background(), msg)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink was not called")
	}
	require.NoError(t, d.Close())
}

func TestDispatcher_SwallowsFailuresAndTimeouts(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("quota exceeded")).Times(1)
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ chat.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}).Times(1)
	sink.EXPECT().Close().Return(nil).Times(1)

	d := NewDispatcher(sink, 20*time.Millisecond, log)
	start := time.Now()
	d.Dispatch(context.Background(), annSays("one"))
	d.Dispatch(context.Background(), annSays("two"))
	require.True(t, time.Since(start) < 20*time.Millisecond, "dispatch must not wait for the sink")

	require.NoError(t, d.Close())
}

func TestDispatcher_KeepsDispatchOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transcript.db")

	sink, err := OpenSQLiteSink(ctx, path)
	req.NoError(err)
	d := NewDispatcher(sink, time.Second, logs.GetLoggerFromLevel(slog.LevelDebug))

	var sent []string
	for i := range 200 {
		msg := annSays(fmt.Sprintf("line %03d", i))
		sent = append(sent, msg.ID.String())
		d.Dispatch(ctx, msg)
	}
	req.NoError(d.Close())

	sink, err = OpenSQLiteSink(ctx, path)
	req.NoError(err)
	defer sink.Close()
	rows, err := sink.Rows(ctx)
	req.NoError(err)

	var written []string
	for _, row := range rows {
		written = append(written, row.MessageID)
	}
	req.Equal(sent, written)
}

func TestDispatcher_DropsWhenQueueIsFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	started := make(chan struct{})
	release := make(chan struct{})
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, chat.Message) error {
		close(started)
		<-release
		return nil
	}).Times(1)
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).Times(QueueSize)
	sink.EXPECT().Close().Return(nil).Times(1)

	d := NewDispatcher(sink, time.Minute, log)
	d.Dispatch(context.Background(), annSays("blocking"))
	<-started

	start := time.Now()
	for range QueueSize + 50 {
		d.Dispatch(context.Background(), annSays("burst"))
	}
	require.True(t, time.Since(start) < time.Second, "dispatch must not wait for a full queue")

	close(release)
	require.NoError(t, d.Close())
}

func TestDispatcher_IgnoresDispatchAfterClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Close().Return(nil).Times(1)

	d := NewDispatcher(sink, time.Second, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, d.Close())

	require.NotPanics(t, func() { d.Dispatch(context.Background(), annSays("late")) })
}

func TestOpen_SelectsSink(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	sink, err := Open(ctx, Options{Backend: BackendNone})
	req.NoError(err)
	req.IsType(Nop{}, sink)

	sink, err = Open(ctx, Options{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "t.db")})
	req.NoError(err)
	req.IsType(&SQLiteSink{}, sink)
	req.NoError(sink.Close())

	_, err = Open(ctx, Options{Backend: "sheets"})
	req.ErrorIs(err, ErrUnknownBackend)

	_, err = ParseBackend("sheets")
	req.ErrorIs(err, ErrUnknownBackend)
}
