package xhr

import (
	"strconv"
	"strings"
)

// Response is a decoded CGI answer. Values keep the shapes encoding/json
// produces; the accessors paper over the device mixing "1" and 1.
type Response map[string]any

// Has reports whether key is present and not null.
func (r Response) Has(key string) bool {
	if r == nil {
		return false
	}
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value as text. Numbers are formatted without a
// trailing ".0"; missing keys give "".
func (r Response) String(key string) string {
	if r == nil {
		return ""
	}
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Int parses the value as an integer the way parseInt does: leading digits
// of a string count, anything else fails.
func (r Response) Int(key string) (int, bool) {
	if r == nil {
		return 0, false
	}
	switch v := r[key].(type) {
	case float64:
		return int(v), true
	case string:
		return leadingInt(v)
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Is compares the value with n the loose way the firmware pages do, so 1,
// "1" and true all equal 1.
func (r Response) Is(key string, n int) bool {
	if r == nil {
		return false
	}
	switch v := r[key].(type) {
	case float64:
		return v == float64(n)
	case bool:
		return (v && n == 1) || (!v && n == 0)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return n == 0
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && f == float64(n)
	default:
		return false
	}
}

// Object returns a nested object.
func (r Response) Object(key string) Response {
	if r == nil {
		return nil
	}
	if m, ok := r[key].(map[string]any); ok {
		return Response(m)
	}
	return nil
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// looseZero mirrors the "== 0" comparison the firmware pages rely on, where
// "0", "", false and 0 are all equal to zero.
func looseZero(v any) bool {
	return Response{"v": v}.Is("v", 0)
}
