package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)

	// Authorization header values as echoed back in vendor error bodies.
	authRe = regexp.MustCompile(`(?i)\b(api-key|bearer)\s+[A-Za-z0-9_\-\.]+`)
	// Yandex Cloud API keys and IAM tokens.
	apiKeyRe   = regexp.MustCompile(`\bAQVN[A-Za-z0-9_\-]{20,}`)
	iamTokenRe = regexp.MustCompile(`\bt1\.[A-Za-z0-9_\-\.]{20,}`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Text masks credentials unconditionally, and emails and phone numbers when enabled.
func Text(in string) string {
	if strings.TrimSpace(in) == "" {
		return in
	}
	out := authRe.ReplaceAllString(in, "$1 [REDACTED_KEY]")
	out = apiKeyRe.ReplaceAllString(out, "[REDACTED_KEY]")
	out = iamTokenRe.ReplaceAllString(out, "[REDACTED_TOKEN]")
	if !enabled.Load() {
		return out
	}
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret renders a credential for logs, keeping only the last four characters.
func Secret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
