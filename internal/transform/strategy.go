package transform

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// redact replaces value entirely with a fixed marker, preserving the field's
// tag for audit trace readability.
func redact(tag Tag) string {
	return fmt.Sprintf("[REDACTED_%s]", tag)
}

// mask preserves the last 4 characters of value and replaces the rest with
// asterisks, fully masking values of 4 characters or fewer.
func mask(value string) string {
	if len(value) <= 4 {
		return repeat("*", len(value))
	}
	return repeat("*", len(value)-4) + value[len(value)-4:]
}

func repeat(s string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = s[0]
	}
	return string(b)
}

// tokenize replaces value with a deterministic, non-reversible token bound
// to keyID so the same (keyID, value) pair always tokenizes identically —
// required by the purity invariant — while different keys never collide.
func tokenize(keyID, value string) string {
	mac := hmac.New(sha256.New, []byte(keyID))
	mac.Write([]byte(value))
	return fmt.Sprintf("[TOKEN:%x]", mac.Sum(nil)[:8])
}

// stringify renders a field value as a string for mask/tokenize, which only
// operate meaningfully on string-shaped data; non-string values fall back to
// their default formatting.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
