package xhr

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

const jsonMarker = "Content-type: application/json"

var jsonContentTypes = map[string]bool{
	"application/json":          true,
	"text/plain; charset=utf-8": true,
	"text/plain":                true,
}

// encodeParams builds the ajax query or form body. Caller keys come first
// in sorted order, then ajaxmethod and the cache-busting nonce.
func encodeParams(method string, params url.Values, nonce string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "ajaxmethod" || k == "_" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	add := func(k, v string) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(v))
	}
	for _, k := range keys {
		for _, v := range params[k] {
			add(k, v)
		}
	}
	add("ajaxmethod", method)
	add("_", nonce)
	return b.String()
}

// escape matches encodeURIComponent for the characters the device cares
// about; spaces become %20, not '+'.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Decode turns a CGI body into a Response. Unknown content types are
// scanned for the inline JSON marker some handlers print before the
// payload. Anything unparsable yields nil.
func Decode(contentType string, body []byte) Response {
	var payload []byte
	if jsonContentTypes[contentType] {
		payload = body
	} else {
		i := strings.Index(string(body), jsonMarker)
		if i < 0 {
			return nil
		}
		payload = body[i+len(jsonMarker):]
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	obj, ok := rewritePoints(doc).(map[string]any)
	if !ok {
		return nil
	}
	return Response(obj)
}

// rewritePoints replaces the "_point_" escape with "." in keys and string
// values at every depth.
func rewritePoints(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[strings.ReplaceAll(k, "_point_", ".")] = rewritePoints(val)
		}
		return out
	case []any:
		for i := range x {
			x[i] = rewritePoints(x[i])
		}
		return x
	case string:
		return strings.ReplaceAll(x, "_point_", ".")
	default:
		return v
	}
}
