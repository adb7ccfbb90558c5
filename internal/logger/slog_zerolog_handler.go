package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zlBridge adapts a zerolog backend to the slog.Handler contract so every
// component can take a *slog.Logger while output stays on one zerolog
// pipeline. Request-scoped fields ride the context and are attached per
// record by FromContext.
type zlBridge struct {
	zl    *zerolog.Logger
	attrs []slog.Attr
}

// NewSlog wraps zl in a slog.Logger.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&zlBridge{zl: zl})
}

// Enabled defers entirely to zerolog's global level filtering.
func (h *zlBridge) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *zlBridge) Handle(ctx context.Context, r slog.Record) error {
	ev := event(FromContext(ctx, h.zl), r.Level)

	for _, a := range h.attrs {
		ev = appendAttr(ev, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

func (h *zlBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(cp.attrs[:len(cp.attrs):len(cp.attrs)], attrs...)
	return &cp
}

// WithGroup is a no-op: the flat field namespace matches the zerolog output
// the rest of the service emits.
func (h *zlBridge) WithGroup(_ string) slog.Handler { return h }

func event(base *zerolog.Logger, lvl slog.Level) *zerolog.Event {
	switch {
	case lvl <= slog.LevelDebug:
		return base.Debug()
	case lvl >= slog.LevelError:
		return base.Error()
	case lvl >= slog.LevelWarn:
		return base.Warn()
	default:
		return base.Info()
	}
}

func appendAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(a.Key, v.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(a.Key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, v.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(a.Key, v.Duration())
	case slog.KindTime:
		return ev.Time(a.Key, v.Time())
	default:
		return ev.Interface(a.Key, v.Any())
	}
}
