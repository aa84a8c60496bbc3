package transport

import (
	"strings"
	"unicode"
)

// ToWire rewrites every object key in v from camel style (dueDate) to the
// backend's underscore style (due_date). Nested maps and slices are walked;
// scalar values are returned untouched.
func ToWire(v any) any {
	return convertKeys(v, camelToSnake)
}

// FromWire is the inverse of ToWire.
func FromWire(v any) any {
	return convertKeys(v, snakeToCamel)
}

func convertKeys(v any, rename func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[rename(k)] = convertKeys(child, rename)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = convertKeys(child, rename)
		}
		return out
	default:
		return v
	}
}

// camelToSnake converts "createdAt" to "created_at". Digits stay attached to
// the preceding word.
func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snakeToCamel converts "created_at" to "createdAt". Leading, trailing and
// doubled underscores are preserved so unusual keys survive unchanged.
func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	upperNext := false
	for i, r := range s {
		if r == '_' && i > 0 && i < len(s)-1 && s[i-1] != '_' && s[i+1] != '_' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
