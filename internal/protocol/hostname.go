package protocol

import "strings"

// SanitizeHost extracts the routable portion of a Minecraft handshake
// server_address field.
//
// Clients append extra data after the hostname for their own forwarding
// schemes (a trailing NUL-delimited FML marker, a leading "/" some
// loaders use to detect tampering); routing must only ever see the
// substring before the first such marker. The result is idempotent:
// sanitizing an already-sanitized host returns it unchanged.
func SanitizeHost(raw string) (string, bool) {
	if i := strings.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	return raw, true
}
