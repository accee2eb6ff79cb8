package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level, encoding and fixed fields of a process logger.
// Level takes zerolog level names; anything unparsable means info.
// SampleN > 1 keeps one of every N events.
type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Service   string
	Component string
}

type fieldsKey struct{}

// fields are the request-scoped values copied onto every log line.
type fields struct {
	requestID string
	component string
	layer     string
}

func fieldsFrom(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey{}).(fields)
	return f
}

func withFields(ctx context.Context, edit func(*fields)) context.Context {
	f := fieldsFrom(ctx)
	edit(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithRequestID tags ctx with reqID, generating one when it is empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return withFields(ctx, func(f *fields) { f.requestID = reqID })
}

// RequestID returns the request ID carried by ctx, if any.
func RequestID(ctx context.Context) string { return fieldsFrom(ctx).requestID }

// WithLayer tags log lines with the layer identifier being served.
func WithLayer(ctx context.Context, layer string) context.Context {
	if layer == "" {
		return ctx
	}
	return withFields(ctx, func(f *fields) { f.layer = layer })
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return withFields(ctx, func(f *fields) { f.component = component })
}

// NewID returns 16 random hex characters.
func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Build returns a process logger writing JSON (or console text) to out,
// stdout when out is nil. The level is set on the logger, not globally.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out).Level(ParseLevel(cfg.Level))
	if cfg.SampleN > 1 {
		n := uint32(math.MaxUint32)
		if uint64(cfg.SampleN) < math.MaxUint32 {
			n = uint32(cfg.SampleN)
		}
		base = base.Sample(&zerolog.BasicSampler{N: n})
	}

	w := base.With().Timestamp()
	if cfg.Service != "" {
		w = w.Str("service", cfg.Service)
	}
	if cfg.Component != "" {
		w = w.Str("component", cfg.Component)
	}
	return w.Logger()
}

// FromContext returns a child of parent carrying the request fields of ctx.
// A nil parent discards.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	if parent == nil {
		l := zerolog.Nop()
		return &l
	}
	f := fieldsFrom(ctx)
	if f == (fields{}) {
		return parent
	}
	w := parent.With()
	if f.requestID != "" {
		w = w.Str("request_id", f.requestID)
	}
	if f.component != "" {
		w = w.Str("component", f.component)
	}
	if f.layer != "" {
		w = w.Str("layer", f.layer)
	}
	l := w.Logger()
	return &l
}
