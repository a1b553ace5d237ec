// forumd/utils/security.go
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// GetIPAddress extracts the real IP address from a request, trusting proxy headers.
func GetIPAddress(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return cf
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IsLANAddress reports whether the request originates from a private or loopback address.
func IsLANAddress(r *http.Request) bool {
	ip := net.ParseIP(GetIPAddress(r))
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback())
}

// HashToken returns the hex SHA256 of a bearer token. Only hashes are persisted.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NewToken returns a random opaque token suitable for cookies and download links.
func NewToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "") + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IPPattern converts a tracking query such as "192.168.*" into a SQL LIKE pattern.
// The boolean is false when the input is not a plausible address or prefix.
func IPPattern(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	if !strings.HasSuffix(input, "*") {
		return input, net.ParseIP(input) != nil
	}
	prefix := strings.TrimSuffix(input, "*")
	for _, r := range prefix {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') && !(r >= 'A' && r <= 'F') && r != '.' && r != ':' {
			return "", false
		}
	}
	return prefix + "%", true
}
