package logx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWith(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := NewContext(context.Background(), slog.New(NewHandler("text", buf, slog.LevelDebug, false)))
	ctx, log := ContextWith(ctx, "engine")
	log.Debug("hello")
	assert.Contains(t, buf.String(), "loc=engine")
	assert.Same(t, log, FromContext(ctx))
}

func TestErr(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := NewContext(context.Background(), slog.New(NewHandler("json", buf, slog.LevelDebug, false)))
	base := errors.New("boom")
	err := Err(ctx, "load execution", base, "id", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, buf.String(), `"msg":"load execution"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestEntrypoint(t *testing.T) {
	ctx, _ := Entrypoint(context.Background(), "executor", "cid-1")
	assert.Equal(t, "cid-1", ctx.Value(CorrelationContextKey))
}

func TestParseLevel(t *testing.T) {
	lev, src := ParseLevel("debug")
	assert.Equal(t, slog.LevelDebug, lev)
	assert.True(t, src)
	lev, _ = ParseLevel("bogus")
	assert.Equal(t, slog.LevelError, lev)
}
