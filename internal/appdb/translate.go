package appdb

import "sort"

// preferredLocale is the translation key picked when present.
const preferredLocale = "en_US"

// Flatten resolves a source text value to a plain string. Translated fields
// arrive as a locale-to-text mapping; the en_US entry wins, otherwise the
// first value by sorted key order so repeated runs pick the same one. Byte
// payloads are decoded as text. The second return reports whether a
// translation mapping had to be resolved, which callers count as a warning.
func Flatten(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, false
	case []byte:
		return string(v), false
	case map[string]any:
		if len(v) == 0 {
			return "", false
		}

		if text, ok := v[preferredLocale]; ok {
			s, _ := Flatten(text)
			return s, len(v) > 1
		}

		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		s, _ := Flatten(v[keys[0]])

		return s, true
	default:
		return "", false
	}
}
