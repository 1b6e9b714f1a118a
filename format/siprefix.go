package format

import (
	"fmt"
	"math"
)

// prefixes1024 are the binary SI prefixes used for byte counts (ratio
// 1024), resolving the "K for 1024, k for 1000" open question the way
// the specification's own design notes settle it.
var prefixes1024 = []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi", "Yi"}

// prefixes1000 are the decimal SI prefixes used for line counts and
// decimal-byte mode (ratio 1000).
var prefixes1000 = []string{"", "k", "m", "g", "t", "p", "e", "z", "y"}

// siScale reduces value by repeatedly dividing by ratio until it falls
// below 0.97*ratio or the prefix table is exhausted, returning the scaled
// value and the chosen prefix string.
func siScale(value, ratio float64, prefixes []string) (float64, string) {
	idx := 0
	for idx < len(prefixes)-1 && value >= ratio*0.97 {
		value /= ratio
		idx++
	}
	return value, prefixes[idx]
}

// formatMagnitude renders a scaled SI value: %4d once it reaches 99.9 or
// more (whole numbers dominate at that point), otherwise three
// significant figures with trailing zeros kept, matching the %#4.3Lg
// behavior described in §4.7.
func formatMagnitude(value float64) string {
	if value >= 99.9 {
		return fmt.Sprintf("%4d", int64(math.Round(value)))
	}
	return formatSigFigs(value, 3)
}

func formatSigFigs(v float64, sig int) string {
	if v == 0 {
		return fmt.Sprintf("%*.2f", sig+1, 0.0)
	}
	intDigits := int(math.Floor(math.Log10(math.Abs(v)))) + 1
	if intDigits < 1 {
		intDigits = 1
	}
	decimals := sig - intDigits
	if decimals < 0 {
		decimals = 0
	}
	return fmt.Sprintf("%.*f", decimals, v)
}
