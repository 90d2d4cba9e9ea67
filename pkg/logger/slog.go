package logger

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// Slog returns a *slog.Logger that writes through l.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&slogHandler{base: l})
}

// slogHandler adapts Logger to slog.Handler.
type slogHandler struct {
	base  *Logger
	group string
	attrs []Field
}

func toLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.base.Enabled(toLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]Field, 0, len(h.attrs)+r.NumAttrs()+1)
	fields = append(fields, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, h.field(a))
		return true
	})

	l := h.base
	if l.addCaller && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		file := frame.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		fields = append(fields, String("caller", fmt.Sprintf("%s:%d", file, frame.Line)))
		l = l.clone()
		l.addCaller = false
	}

	l.write(toLevel(r.Level), r.Message, 0, fields)
	return nil
}

func (h *slogHandler) field(a slog.Attr) Field {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	v := a.Value.Resolve()
	if err, ok := v.Any().(error); ok {
		return Field{Key: key, Value: err.Error()}
	}
	if v.Kind() == slog.KindDuration {
		return Field{Key: key, Value: v.Duration().String()}
	}
	return Field{Key: key, Value: v.Any()}
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &slogHandler{base: h.base, group: h.group}
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, h.field(a))
	}
	return nh
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &slogHandler{base: h.base, group: group, attrs: h.attrs}
}
