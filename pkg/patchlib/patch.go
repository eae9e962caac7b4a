package patchlib

import (
	"fmt"
	"mime"
	"net/http"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// JavaScriptMIME is the only Content-Type value that gets patched. The
// comparison is exact: "text/javascript; charset=utf-8" is passed through.
const JavaScriptMIME = "text/javascript"

func IsJavaScript(contentType string) bool {
	return contentType == JavaScriptMIME
}

// Apply replaces the first match of the route's pattern in body. The
// replacement may reference groups with $1 or ${name}. It reports whether a
// match was found; without one body is returned unchanged.
func (r *CompiledRoute) Apply(body string) (string, bool) {
	m := r.pattern.FindStringSubmatchIndex(body)
	if m == nil {
		return body, false
	}

	dst := make([]byte, 0, len(body)+len(r.Patch.Replace))
	dst = append(dst, body[:m[0]]...)
	dst = r.pattern.ExpandString(dst, r.Patch.Replace, body, m)
	dst = append(dst, body[m[1]:]...)
	return string(dst), true
}

// filterHeaders copies the listed headers, with all their values, from the
// upstream response. Names must already be canonical.
func filterHeaders(names []string, upstream http.Header) http.Header {
	out := make(http.Header, len(names))
	for _, name := range names {
		if values := upstream.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

// decodeBody turns the raw body into text using the charset named by the
// Content-Type. Unknown or missing charsets are treated as UTF-8.
func decodeBody(raw []byte, contentType string) (string, error) {
	var enc encoding.Encoding = unicode.UTF8
	if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
		if e, err := htmlindex.Get(params["charset"]); err == nil {
			enc = e
		}
	}

	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("%w: body is not valid utf-8", ErrBodyDecode)
		}
		return string(raw), nil
	}

	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBodyDecode, err)
	}
	return string(decoded), nil
}
