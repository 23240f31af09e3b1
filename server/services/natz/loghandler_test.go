package natz

import (
	"context"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/server/messages"
	"log/slog"
	"testing"
	"time"
)

func TestLogHandlerPublishes(t *testing.T) {
	conn, err := Connect(NatsConnConfiguration{URL: startNats(t), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	received := make(chan *nats.Msg, 4)
	sub, err := conn.ChanSubscribe(messages.LogAll, received)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, conn.Flush())

	log := slog.New(NewLogHandler(conn, slog.LevelInfo)).With(slog.String("loc", "executor")).WithGroup("job")
	log.Debug("not published")
	log.Warn("lock lost", slog.String("id", "j-1"))
	require.NoError(t, conn.Flush())

	select {
	case msg := <-received:
		assert.Equal(t, "BPMNLog.WARN", msg.Subject)
		lr, err := DecodeLogRecord(msg)
		require.NoError(t, err)
		assert.Equal(t, "lock lost", lr.Message)
		assert.Equal(t, "WARN", lr.Level)
		assert.Equal(t, map[string]string{"loc": "executor", "job.id": "j-1"}, lr.Attributes)
	case <-time.After(5 * time.Second):
		t.Fatal("no log record received")
	}
	assert.Empty(t, received, "debug records are filtered")
}

func TestLogHandlerReportsPublishFailure(t *testing.T) {
	conn := &MockNatsConn{}
	conn.On("PublishMsg", mock.Anything).Return(nats.ErrConnectionClosed).Once()
	h := NewLogHandler(conn, slog.LevelDebug)
	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "boom", 0))
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	conn.AssertExpectations(t)
}

func TestLogHandlerAttrsDoNotLeak(t *testing.T) {
	h := NewLogHandler(&MockNatsConn{}, slog.LevelDebug)
	a := h.WithAttrs([]slog.Attr{slog.String("a", "1")}).(*LogHandler)
	b := a.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*LogHandler)
	c := a.WithAttrs([]slog.Attr{slog.String("c", "3")}).(*LogHandler)
	assert.Len(t, a.attrs, 1)
	assert.Equal(t, "b", b.attrs[1].Key)
	assert.Equal(t, "c", c.attrs[1].Key)
	assert.Same(t, h, h.WithGroup(""))
}
