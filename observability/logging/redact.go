package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag attribute keys whose values must never reach a log
// sink: recovery phrases, captcha secrets, node and admin tokens.
var sensitiveMarkers = []string{"mnemonic", "phrase", "secret", "password", "token", "private_key", "authorization"}

// redactionAllowlist holds keys that contain a marker but carry public values.
var redactionAllowlist = map[string]struct{}{
	"token_id":          {},
	"token_decimals":    {},
	"token_drip_amount": {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// IsSensitive reports whether values logged under key are redacted.
func IsSensitive(key string) bool {
	if IsAllowlisted(key) {
		return false
	}
	normalized := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged so an unset secret stays visible as unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// redactAttr masks sensitive attributes. Setup installs it on every handler.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindString {
		return slog.String(attr.Key, MaskValue(value.String()))
	}
	return slog.String(attr.Key, RedactedValue)
}
