package ingest

import (
	"regexp"
	"strings"
)

// usStreetTail matches trailing ", CA 94710" / ", CA" / ", CA 94710-1234, USA"
// style endings so the city token can be picked out of a free-text address.
var usStreetTail = regexp.MustCompile(`(?i),?\s*(?:[A-Z]{2})?\s*\d{5}(?:-\d{4})?\s*(?:,?\s*(?:USA|United States))?\s*$`)

// CityFromAddress extracts the city token from a free-text US street address
// such as "1 Main St, Berkeley, CA 94710". It returns the empty string when
// no city can be determined; the caller treats absence as missing data.
func CityFromAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}

	// Drop trailing country / state / zip noise.
	address = usStreetTail.ReplaceAllString(address, "")
	address = strings.TrimRight(address, ", ")

	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return ""
	}

	// The city is the last comma-separated token once the tail is removed,
	// unless that token is a bare state abbreviation.
	candidate := strings.TrimSpace(parts[len(parts)-1])
	if len(candidate) == 2 && candidate == strings.ToUpper(candidate) {
		if len(parts) < 3 {
			return ""
		}
		candidate = strings.TrimSpace(parts[len(parts)-2])
	}

	if candidate == "" || containsDigit(candidate) {
		return ""
	}
	return candidate
}

// CityMatchesAddress reports whether the city parsed from the address agrees
// with the given city, ignoring case. A missing parse never counts as a
// conflict.
func CityMatchesAddress(address, city string) bool {
	parsed := CityFromAddress(address)
	if parsed == "" || city == "" {
		return true
	}
	return strings.EqualFold(parsed, city)
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
