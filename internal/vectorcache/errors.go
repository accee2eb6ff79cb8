package vectorcache

import (
	"errors"

	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/crs"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

var (
	// ErrNotFound is returned for identifiers and layers the catalog does not know.
	ErrNotFound = errors.New("layer not found")
	// ErrEmptyLayer marks a layer with no features. It is absence, not failure.
	ErrEmptyLayer = errors.New("layer has no features")
	// ErrSimplify is returned when simplification erased a non-empty geometry.
	ErrSimplify = errors.New("simplification produced an empty geometry")

	ErrUnsupported      = source.ErrUnsupported
	ErrUnsupportedCRS   = crs.ErrUnsupportedCRS
	ErrSourceUnreadable = source.ErrUnreadable
)

// Outcome is what a lookup resolved to, independent of transport.
type Outcome int

const (
	Found Outcome = iota
	NotFound
	Unsupported
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Unsupported:
		return "unsupported"
	default:
		return "failed"
	}
}

// Classify maps an error returned by the cache to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Found
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEmptyLayer), errors.Is(err, source.ErrLayerNotFound):
		return NotFound
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrUnsupportedCRS):
		return Unsupported
	default:
		return Failed
	}
}
