// Package security masks secrets before they reach logs.
package security

import "net/url"

// MaskSecret keeps the first prefixLen bytes of secret. Secrets no longer
// than the prefix are hidden entirely.
//
//	MaskSecret("AIzaSyD-abc123", 4) -> "AIza..."
//	MaskSecret("short", 8)          -> "***"
func MaskSecret(secret string, prefixLen int) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= prefixLen {
		return "***"
	}
	return secret[:prefixLen] + "..."
}

// MaskAPIKey shows enough of an upstream key to tell keys apart. Gemini
// keys share the "AIza" prefix, so eight bytes are kept.
func MaskAPIKey(key string) string {
	return MaskSecret(key, 8)
}

// MaskURL hides the password in the userinfo of a connection URL, as used
// for Redis and PostgreSQL snapshot backends. Unparseable input is hidden
// entirely.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
