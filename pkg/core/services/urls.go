package services

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// NormalizeURL percent-encodes every path segment that contains non-ASCII
// characters. Scheme, host, query and fragment are left as they are, and
// ASCII-only segments are never touched, so the result is stable.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	i := strings.Index(raw, "://")
	if i < 0 {
		return raw
	}
	authStart := i + 3
	pathStart := strings.IndexAny(raw[authStart:], "/?#")
	if pathStart < 0 {
		return raw
	}
	pathStart += authStart

	rest := raw[pathStart:]
	pathEnd := strings.IndexAny(rest, "?#")
	if pathEnd < 0 {
		pathEnd = len(rest)
	}
	path, tail := rest[:pathEnd], rest[pathEnd:]

	segments := strings.Split(path, "/")
	changed := false
	for j, seg := range segments {
		if isASCII(seg) {
			continue
		}
		segments[j] = url.PathEscape(seg)
		changed = true
	}
	if !changed {
		return raw
	}
	return raw[:pathStart] + strings.Join(segments, "/") + tail
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
