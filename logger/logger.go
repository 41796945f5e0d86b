// Package logger carries structured attributes on contexts so every log
// line written with that context includes them.
package logger

import (
	"context"
	"io"
	"log/slog"
	"slices"
)

type contextKey string

const attrsKey contextKey = "attrs"

// ContextHandler wraps another [slog.Handler] and appends the attributes
// stored on the context by [Ctx] to each record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(base slog.Handler) ContextHandler {
	return ContextHandler{Handler: base}
}

func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, record)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Ctx returns a child of ctx carrying attrs on top of whatever ctx already
// carries.
func Ctx(ctx context.Context, attrs ...slog.Attr) context.Context {
	have, _ := ctx.Value(attrsKey).([]slog.Attr)

	// Clipped so sibling contexts never share a backing array.
	return context.WithValue(ctx, attrsKey, append(slices.Clip(have), attrs...))
}

// New builds the process logger: text unless format is "json", always
// wrapped in a ContextHandler.
func New(format string, w io.Writer) *slog.Logger {
	var handler slog.Handler = slog.NewTextHandler(w, nil)
	if format == "json" {
		handler = slog.NewJSONHandler(w, nil)
	}
	return slog.New(NewContextHandler(handler))
}

func Feed(id string) slog.Attr {
	return slog.String("feed_id", id)
}

func Playlist(id string) slog.Attr {
	return slog.String("playlist_id", id)
}

func RemoteItem(feedGUID, itemGUID string) slog.Attr {
	return slog.Group("remote_item", slog.String("feed_guid", feedGUID), slog.String("item_guid", itemGUID))
}
