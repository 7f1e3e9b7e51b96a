// internal/session/charset.go
package session

import (
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// decodeBody converts body to a UTF-8 string using the charset named in the
// Content-Type header. Unknown charsets are returned unchanged.
func decodeBody(body []byte, contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body)
	}

	charset := strings.ToLower(strings.TrimSpace(params["charset"]))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(body)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(body)
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
