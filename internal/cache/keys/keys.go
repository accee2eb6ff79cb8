// Package keys builds the cache keys of the two layer cache tiers.
package keys

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// LayerKey identifies a materialized layer (Tier A). The readable prefix
// is sanitized and truncated; the hash suffix keeps distinct paths apart.
func LayerKey(path, layer string) string {
	full := filepath.Clean(path) + "\x00" + layer
	readable := sanitize(filepath.Base(path) + ":" + strings.TrimSpace(layer))

	const maxReadableLen = 120
	if len(readable) > maxReadableLen {
		readable = readable[:maxReadableLen]
	}
	return fmt.Sprintf("%s:f=%016x", readable, xxhash.Sum64String(full))
}

// VariantKey identifies one serialized rendition of a layer (Tier B).
// Non-positive tolerances all mean "no simplification" and share a key.
func VariantKey(layerKey string, tolerance float64) string {
	return layerKey + ":simplify=" + strconv.FormatFloat(NormalizeTolerance(tolerance), 'g', -1, 64)
}

// LayerOf returns the Tier A key a variant key belongs to.
func LayerOf(variantKey string) string {
	if i := strings.LastIndex(variantKey, ":simplify="); i >= 0 {
		return variantKey[:i]
	}
	return variantKey
}

func NormalizeTolerance(t float64) float64 {
	if t > 0 {
		return t
	}
	return 0
}

// CatalogVersion fingerprints a set of file watermarks. Processes reading the
// same unchanged files compute the same version.
func CatalogVersion(marks map[string]time.Time) string {
	paths := make([]string, 0, len(marks))
	for p := range marks {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	d := xxhash.New()
	for _, p := range paths {
		_, _ = d.WriteString(p)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.FormatInt(marks[p].UnixNano(), 10))
		_, _ = d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
