package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// priceRegexp captures the first numeric run, separators included.
var priceRegexp = regexp.MustCompile(`\d[\d.,]*`)

// ParsePrice extracts a currency-agnostic amount from free text such as
// "$1,200", "1.200 €" or "12,50". It returns nil when no number is present
// ("Free", "Contact seller", "").
func ParsePrice(raw string) *float64 {
	match := priceRegexp.FindString(strings.TrimSpace(raw))
	match = strings.TrimRight(match, ".,")
	if match == "" {
		return nil
	}

	val, err := strconv.ParseFloat(canonicalNumber(match), 64)
	if err != nil {
		return nil
	}
	return &val
}

// canonicalNumber rewrites a number with mixed separators to the form
// strconv.ParseFloat accepts. When both ',' and '.' appear the last one is the
// decimal separator. A lone separator followed by exactly three digits is a
// thousands separator unless the integer part is 0.
func canonicalNumber(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		return resolveSingle(s, ",")
	case lastDot >= 0:
		return resolveSingle(s, ".")
	}
	return s
}

func resolveSingle(s, sep string) string {
	parts := strings.Split(s, sep)
	if len(parts) > 2 {
		return strings.Join(parts, "")
	}
	if len(parts[1]) == 3 && parts[0] != "0" {
		return parts[0] + parts[1]
	}
	return parts[0] + "." + parts[1]
}
