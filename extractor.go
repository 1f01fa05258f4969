package seatguard

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// ExtractFingerprint builds a device fingerprint from an HTTP request.
// Screen resolution and timezone are not part of a plain HTTP request; the
// client reports them in the X-Screen-Resolution and X-Timezone headers.
func ExtractFingerprint(r *http.Request) DeviceFingerprint {
	ua := r.UserAgent()

	fp := DeviceFingerprint{
		UserAgent:        ua,
		ScreenResolution: strings.TrimSpace(r.Header.Get("X-Screen-Resolution")),
		Timezone:         strings.TrimSpace(r.Header.Get("X-Timezone")),
		Language:         primaryLanguage(r.Header.Get("Accept-Language")),
		Platform:         platform(ua),
	}
	fp.Hash = HashFingerprint(fp)
	return fp
}

// platform returns the operating system named by a user agent.
func platform(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return "bot"
	}
	if name := parsed.OSInfo().Name; name != "" {
		return name
	}
	return parsed.Platform()
}

// primaryLanguage returns the first tag of an Accept-Language header,
// e.g. "en-US" for "en-US,en;q=0.9".
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

// proxyHeaders are consulted in order for the client IP. Only the first
// X-Forwarded-For hop is the client.
var proxyHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// ClientIP returns the client IP of an HTTP request, preferring proxy
// headers over RemoteAddr.
func ClientIP(r *http.Request) string {
	for _, header := range proxyHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		first, _, _ := strings.Cut(value, ",")
		if ip := strings.TrimSpace(first); isValidIP(ip) {
			return ip
		}
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return host
}

// isValidIP checks if the string is a valid IP address.
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// IsPrivateIP returns true if the IP is loopback, link-local or in a
// private range. GeoIP has nothing useful to say about these.
func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() ||
		parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}
