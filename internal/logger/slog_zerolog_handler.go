package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zlHandler renders slog records through zerolog. Groups opened with
// WithGroup or slog.Group become nested JSON objects.
type zlHandler struct {
	zl     *zerolog.Logger
	groups []string
	attrs  []scopedAttr
}

// scopedAttr is an attribute bound by WithAttrs inside the first depth
// groups.
type scopedAttr struct {
	depth int
	attr  slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&zlHandler{zl: zl})
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *zlHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.zl == nil {
		return false
	}
	zl := zerologLevel(l)
	return zl >= h.zl.GetLevel() && zl >= zerolog.GlobalLevel()
}

func (h *zlHandler) Handle(ctx context.Context, r slog.Record) error {
	ev := FromContext(ctx, h.zl).WithLevel(zerologLevel(r.Level))
	if ev == nil {
		return nil
	}
	rec := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		rec = append(rec, a)
		return true
	})
	h.fill(ev, 0, rec).Msg(r.Message)
	return nil
}

// fill writes the attributes bound at depth into e, then opens the next
// group as a nested object. Record attributes land in the innermost group.
func (h *zlHandler) fill(e *zerolog.Event, depth int, rec []slog.Attr) *zerolog.Event {
	for _, sa := range h.attrs {
		if sa.depth == depth {
			e = addAttr(e, sa.attr)
		}
	}
	if depth == len(h.groups) {
		for _, a := range rec {
			e = addAttr(e, a)
		}
		return e
	}
	if !h.hasAttrsBelow(depth+1, rec) {
		return e
	}
	return e.Dict(h.groups[depth], h.fill(zerolog.Dict(), depth+1, rec))
}

func (h *zlHandler) hasAttrsBelow(depth int, rec []slog.Attr) bool {
	if len(rec) > 0 {
		return true
	}
	for _, sa := range h.attrs {
		if sa.depth >= depth {
			return true
		}
	}
	return false
}

func (h *zlHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.attrs = make([]scopedAttr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(cp.attrs, h.attrs)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, scopedAttr{depth: len(h.groups), attr: a})
	}
	return &cp
}

func (h *zlHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &cp
}

func addAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindGroup:
		members := a.Value.Group()
		if len(members) == 0 {
			return ev
		}
		if a.Key == "" {
			for _, m := range members {
				ev = addAttr(ev, m)
			}
			return ev
		}
		d := zerolog.Dict()
		for _, m := range members {
			d = addAttr(d, m)
		}
		return ev.Dict(a.Key, d)
	case slog.KindString:
		return ev.Str(a.Key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(a.Key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(a.Key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(a.Key, a.Value.Time())
	default:
		if a.Key == "" {
			return ev
		}
		if err, ok := a.Value.Any().(error); ok {
			return ev.AnErr(a.Key, err)
		}
		return ev.Interface(a.Key, a.Value.Any())
	}
}
