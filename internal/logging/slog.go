package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogHandler lets libraries that expect an *slog.Logger (the supervisor's
// event hook) write through the same zerolog output.
type slogHandler struct {
	logger *Logger
	attrs  []slog.Attr
	groups []string
}

// Slog returns an *slog.Logger writing through l. Records are tagged with
// the given component.
func (l *Logger) Slog(component string) *slog.Logger {
	return slog.New(&slogHandler{
		logger: l,
		attrs:  []slog.Attr{slog.String("component", component)},
	})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlog(level) >= h.logger.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	if fromSlog(record.Level) < h.logger.GetLevel() {
		return nil
	}

	zl := h.logger.Zerolog()
	var event *zerolog.Event
	switch fromSlog(record.Level) {
	case LevelDebug:
		event = zl.Debug()
	case LevelInfo:
		event = zl.Info()
	case LevelWarn:
		event = zl.Warn()
	default:
		event = zl.Error()
	}

	for _, attr := range h.attrs {
		event = addAttr(event, attr, nil)
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = addAttr(event, attr, h.groups)
		return true
	})

	event.Msg(record.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &slogHandler{logger: h.logger, attrs: merged, groups: h.groups}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &slogHandler{logger: h.logger, attrs: h.attrs, groups: groups}
}

func addAttr(event *zerolog.Event, attr slog.Attr, groups []string) *zerolog.Event {
	key := attr.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return event.Str(key, value.String())
	case slog.KindInt64:
		return event.Int64(key, value.Int64())
	case slog.KindUint64:
		return event.Uint64(key, value.Uint64())
	case slog.KindFloat64:
		return event.Float64(key, value.Float64())
	case slog.KindBool:
		return event.Bool(key, value.Bool())
	case slog.KindDuration:
		return event.Dur(key, value.Duration())
	case slog.KindTime:
		return event.Time(key, value.Time())
	case slog.KindGroup:
		nested := append(append([]string{}, groups...), attr.Key)
		for _, ga := range value.Group() {
			event = addAttr(event, ga, nested)
		}
		return event
	default:
		return event.Interface(key, value.Any())
	}
}

func fromSlog(level slog.Level) Level {
	switch {
	case level < slog.LevelInfo:
		return LevelDebug
	case level < slog.LevelWarn:
		return LevelInfo
	case level < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}
