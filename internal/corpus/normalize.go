package corpus

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// mojibakeHints are lead characters left behind when UTF-8 bytes were decoded
// as Windows-1252.
const mojibakeHints = "ÃÂâÅÆÐÑ"

// NormalizeName repairs double-encoded text, applies NFC, strips control and
// zero-width characters and collapses whitespace. Case is preserved.
func NormalizeName(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = RepairMojibake(s)

	t := transform.Chain(
		norm.NFC,
		runes.Map(func(r rune) rune {
			if r == '\t' || r == '\n' || r == '\r' || r == '\u00a0' {
				return ' '
			}
			return r
		}),
		runes.Remove(runes.Predicate(invisible)),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(out), " ")
}

// RepairMojibake reverses one round of UTF-8 read as Windows-1252. Strings
// that do not round-trip to valid UTF-8 are returned unchanged.
func RepairMojibake(s string) string {
	if !strings.ContainsAny(s, mojibakeHints) {
		return s
	}
	raw, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil || raw == s || !utf8.ValidString(raw) {
		return s
	}
	return raw
}

func invisible(r rune) bool {
	return unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r)
}

// foldKey is the case-insensitive comparison form of a name.
func foldKey(s string) string {
	return cases.Fold().String(s)
}
