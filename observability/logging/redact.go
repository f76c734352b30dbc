package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveFragments mark attribute keys whose values are never logged.
var sensitiveFragments = []string{
	"private_key",
	"privatekey",
	"passphrase",
	"password",
	"secret",
	"authorization",
	"mnemonic",
	"keystore_json",
}

// IsSensitive reports whether key names a secret.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// SensitiveKeys returns a sorted copy of the key fragments that are masked.
func SensitiveKeys() []string {
	keys := append([]string(nil), sensitiveFragments...)
	sort.Strings(keys)
	return keys
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns an attribute whose value is redacted.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}
