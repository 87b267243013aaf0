package reply

import (
	"regexp"
	"strings"
)

var (
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:(//)?`)
	portPattern   = regexp.MustCompile(`^[0-9]{1,5}([/?#]|$)`)
)

// StripScheme removes prefix from the start of raw once, ignoring case.
// Templates whose URL button already carries the prefix take the remainder
// as their variable, so the prefix never appears twice.
func StripScheme(raw, prefix string) string {
	if prefix == "" || len(raw) < len(prefix) {
		return raw
	}
	if strings.EqualFold(raw[:len(prefix)], prefix) {
		return raw[len(prefix):]
	}
	return raw
}

// EnsureScheme restores prefix on a URL that has no scheme of its own.
func EnsureScheme(raw, prefix string) string {
	if raw == "" || prefix == "" || HasScheme(raw) {
		return raw
	}
	return prefix + raw
}

// HasScheme reports whether raw starts with a URI scheme such as https:// or tel:.
func HasScheme(raw string) bool {
	m := schemePattern.FindString(raw)
	if m == "" {
		return false
	}
	if strings.HasSuffix(m, "//") {
		return true
	}
	// host:port without a scheme
	return !strings.Contains(raw[:len(m)-1], ".") && !portPattern.MatchString(raw[len(m):])
}

// templateVariable returns the value to substitute into a URL slot that
// already holds prefix. ok is false when raw carries a different scheme.
func templateVariable(raw, prefix string) (string, bool) {
	if stripped := StripScheme(raw, prefix); stripped != raw || prefix == "" {
		return stripped, true
	}
	if HasScheme(raw) {
		return "", false
	}
	return raw, true
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
