// Package keys derives bounded, URL- and filesystem-safe cache keys from
// asset source URLs.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// maxStemLen bounds the human-readable part of a key so the whole key stays
// under a fixed length regardless of input size.
const maxStemLen = 48

// Key maps a source URL to a deterministic cache key. The key doubles as a
// remote-service filename, so only [A-Za-z0-9_-] survives sanitization; the
// xxhash suffix carries the collision resistance.
func Key(sourceURL string) string {
	sum := xxhash.Sum64String(sourceURL)

	stem := sanitizeStem(strings.TrimSpace(sourceURL))
	if len(stem) > maxStemLen {
		// Keep the tail: the filename part of a URL is more telling than
		// its scheme and host.
		stem = stem[len(stem)-maxStemLen:]
		stem = strings.TrimLeft(stem, "_-")
	}
	if stem == "" {
		stem = "asset"
	}

	return fmt.Sprintf("%s-%016x", stem, sum)
}

func sanitizeStem(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isAlphaNum(r):
			out = r
		default:
			// Separators, percent escapes and non-ASCII all collapse to '-'.
			out = '-'
		}
		if out == '-' && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return strings.Trim(b.String(), "-")
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
