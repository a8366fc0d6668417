package observability

import "unicode"

// clean drops control characters and truncates to limit runes so request data cannot forge log lines.
func clean(value string, limit int) string {
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

// SanitizeRoute cleans a route pattern for logs and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}
