package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

type stubReader struct {
	format string
	exts   []string
	probe  error
}

func (s stubReader) Format() string       { return s.format }
func (s stubReader) Extensions() []string { return s.exts }
func (s stubReader) Describe(context.Context, string) ([]LayerMeta, []LayerError, error) {
	return nil, nil, nil
}
func (s stubReader) Read(context.Context, string, string) (*RawLayer, error) { return nil, nil }

type probedReader struct{ stubReader }

func (p probedReader) Probe(context.Context) error { return p.probe }

func TestRegistry_SelectsByExtension(t *testing.T) {
	reg := NewRegistry(context.Background(), nil,
		stubReader{format: "a", exts: []string{".A"}},
		probedReader{stubReader{format: "b", exts: []string{".b"}, probe: errors.New("no engine")}},
	)

	rd, err := reg.For("/data/x.a")
	if err != nil || rd.Format() != "a" {
		t.Fatalf("For(.a)=%v,%v", rd, err)
	}
	if _, err := reg.For("/data/x.b"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("For(.b) err=%v want ErrUnsupported", err)
	}
	if !reg.Recognized("/data/y.B") {
		t.Fatalf("unavailable formats are still recognized")
	}
	if reg.Recognized("/data/readme.txt") {
		t.Fatalf("txt recognized")
	}
	if got := reg.Extensions(); !reflect.DeepEqual(got, []string{".a", ".b"}) {
		t.Fatalf("extensions=%v", got)
	}
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	type named string
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{int32(4), int64(4)},
		{uint8(9), int64(9)},
		{float32(0.5), float64(0.5)},
		{[]byte("x"), "x"},
		{json.Number("12"), int64(12)},
		{json.Number("1.25"), 1.25},
		{ts, "2024-05-01T12:00:00Z"},
		{sql.NullString{}, nil},
		{sql.NullInt64{Int64: 3, Valid: true}, int64(3)},
		{[]float32{1, 2}, []any{float64(1), float64(2)}},
		{map[string]any{"k": int16(2)}, map[string]any{"k": int64(2)}},
		{named("n"), "n"},
	}
	for _, c := range cases {
		if got := NormalizeValue(c.in); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("NormalizeValue(%#v)=%#v want %#v", c.in, got, c.want)
		}
	}
}
