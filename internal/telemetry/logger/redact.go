package logger

import (
	"log/slog"
	"strings"
)

// Key names whose values are always redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"key",
	"credential",
	"nonce",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive redacts attributes carrying secrets: by key name,
// by shape (raw byte slices never belong in a log), and recursively
// through groups.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if IsSensitiveKey(a.Key) && a.Value.String() != "" {
			return slog.String(a.Key, redactedValue)
		}
		if looksLikeKeyMaterial(a.Value.String()) {
			return slog.String(a.Key, redactedValue)
		}

	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}

	case slog.KindAny:
		if _, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, redactedValue)
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// looksLikeKeyMaterial flags long unbroken hex strings, the usual
// shape of an accidentally formatted key or nonce.
func looksLikeKeyMaterial(v string) bool {
	if len(v) < 32 {
		return false
	}
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
