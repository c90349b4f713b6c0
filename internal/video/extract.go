package video

import "strings"

// ExtractString walks a loosely-typed decoded JSON value and returns the
// first non-empty string found at any of the candidate dot-paths. Provider
// responses nest the same value under different keys across endpoints, so
// every call site lists its known shapes in preference order.
func ExtractString(v interface{}, paths ...string) string {
	for _, path := range paths {
		if s := extractPath(v, strings.Split(path, ".")); s != "" {
			return s
		}
	}
	return ""
}

func extractPath(v interface{}, keys []string) string {
	for _, key := range keys {
		m, ok := v.(map[string]interface{})
		if !ok {
			return ""
		}
		v, ok = m[key]
		if !ok {
			return ""
		}
	}
	s, _ := v.(string)
	return s
}
