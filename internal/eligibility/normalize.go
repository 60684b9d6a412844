package eligibility

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dotless maps the Turkish dotless i, which has no decomposition, onto i.
var dotless = strings.NewReplacer("ı", "i")

// NormalizeCity folds a city name to a comparison key: Unicode case folding,
// diacritics stripped, whitespace collapsed. "  İSTANBUL " and "istanbul"
// produce the same key.
func NormalizeCity(city string) string {
	folded := cases.Fold().String(city)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, folded)
	if err != nil {
		stripped = folded
	}

	return strings.Join(strings.Fields(dotless.Replace(stripped)), " ")
}

// CityMatches reports whether two city names denote the same city
func CityMatches(pickupCity, carrierCity string) bool {
	a := NormalizeCity(pickupCity)
	return a != "" && a == NormalizeCity(carrierCity)
}
