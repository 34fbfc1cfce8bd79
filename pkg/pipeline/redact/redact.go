package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|x-goog-api-key)\b\s*[:=]\s*[^\s"']+`)

	// API keys passed as a URL query parameter (Gemini REST style).
	queryKeyRe = regexp.MustCompile(`(?i)([?&]key=)[^&\s"']+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = queryKeyRe.ReplaceAllString(out, "${1}<redacted>")
	return strings.TrimSpace(out)
}

// Snippet returns a single-line, redacted prefix of s at most max bytes long,
// suffixed with "..." when truncated.
func Snippet(s string, max int) string {
	truncated := false
	if max > 0 && len(s) > max {
		s = s[:max]
		truncated = true
	}
	s = Secrets(s)
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if truncated {
		return s + "..."
	}
	return s
}
