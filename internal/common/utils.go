package common

import "strings"

// HasAny reports whether s contains any of the substrings, ignoring case.
func HasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// ColumnKey normalizes a column or pollutant name for matching:
// "PM2.5", "pm25" and "PM_2.5" all map to "pm25".
func ColumnKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(".", "", "_", "", " ", "", "-", "").Replace(s)
}
