package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", &buf)

	ctx := Ctx(context.Background(), Feed("feed-1"))
	a := Ctx(ctx, slog.String("branch", "a"))
	b := Ctx(ctx, slog.String("branch", "b"))

	l.InfoContext(a, "first")
	assert.Contains(t, buf.String(), `"feed_id":"feed-1"`)
	assert.Contains(t, buf.String(), `"branch":"a"`)

	buf.Reset()
	l.InfoContext(b, "second")
	assert.Contains(t, buf.String(), `"branch":"b"`)
	assert.NotContains(t, buf.String(), `"branch":"a"`)
}

func TestNew_WithKeepsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New("text", &buf).With("component", "resolver")

	l.InfoContext(Ctx(context.Background(), Playlist("pl-1")), "hello")
	assert.Contains(t, buf.String(), "component=resolver")
	assert.Contains(t, buf.String(), "playlist_id=pl-1")
}
