package gpkg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
)

var errBadHeader = errors.New("gpkg: malformed geometry header")

const (
	flagByteOrder = 0x01
	flagEnvelope  = 0x0e
	flagEmpty     = 0x10
	flagExtended  = 0x20
)

// envelope sizes in bytes, indexed by the header's envelope indicator
var envelopeSize = [...]int{0, 32, 48, 48, 64}

type header struct {
	srsID       int32
	empty       bool
	hasEnvelope bool
	envelope    model.BBox
	wkbOffset   int
}

func parseHeader(b []byte) (header, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return header{}, errBadHeader
	}
	if b[2] != 0 {
		return header{}, fmt.Errorf("%w: version %d", errBadHeader, b[2])
	}
	flags := b[3]
	if flags&flagExtended != 0 {
		return header{}, fmt.Errorf("%w: extended geometry types are not supported", errBadHeader)
	}
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagByteOrder != 0 {
		order = binary.LittleEndian
	}
	ind := int(flags&flagEnvelope) >> 1
	if ind >= len(envelopeSize) {
		return header{}, fmt.Errorf("%w: envelope indicator %d", errBadHeader, ind)
	}
	size := envelopeSize[ind]
	if len(b) < 8+size {
		return header{}, fmt.Errorf("%w: truncated envelope", errBadHeader)
	}
	h := header{
		srsID:     int32(order.Uint32(b[4:8])),
		empty:     flags&flagEmpty != 0,
		wkbOffset: 8 + size,
	}
	if size > 0 {
		f := func(i int) float64 { return math.Float64frombits(order.Uint64(b[8+8*i:])) }
		// GeoPackage envelopes are ordered minx, maxx, miny, maxy
		h.envelope = model.BBox{MinX: f(0), MaxX: f(1), MinY: f(2), MaxY: f(3)}
		h.hasEnvelope = !math.IsNaN(h.envelope.MinX)
	}
	return h, nil
}

// Decode parses a GeoPackage geometry blob. Empty geometries decode to nil.
func Decode(b []byte) (geom.T, error) {
	h, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.empty {
		return nil, nil
	}
	g, err := wkb.Unmarshal(b[h.wkbOffset:])
	if err != nil {
		return nil, fmt.Errorf("gpkg: decode wkb: %w", err)
	}
	return g, nil
}

// Encode writes g as a little-endian GeoPackage blob with an XY envelope.
func Encode(g geom.T, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("gpkg: encode wkb: %w", err)
	}
	bounds := g.Bounds()
	empty := bounds.IsEmpty()

	flags := byte(flagByteOrder)
	size := 0
	if empty {
		flags |= flagEmpty
	} else {
		flags |= 1 << 1
		size = envelopeSize[1]
	}
	out := make([]byte, 8+size, 8+size+len(body))
	out[0], out[1], out[2], out[3] = 'G', 'P', 0, flags
	binary.LittleEndian.PutUint32(out[4:8], uint32(srsID))
	if !empty {
		vals := [4]float64{bounds.Min(0), bounds.Max(0), bounds.Min(1), bounds.Max(1)}
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[8+8*i:], math.Float64bits(v))
		}
	}
	return append(out, body...), nil
}
