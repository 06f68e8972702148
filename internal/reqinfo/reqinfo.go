// Package reqinfo derives the user agent, client IP and request path from inbound requests.
package reqinfo

import (
	"html"
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kennygrant/sanitize"
)

// Info is the request metadata the classifier and dispatcher consume.
type Info struct {
	UserAgent string
	IP        string
	Path      string
}

// IPHeaders is the ordered list of proxy and edge headers consulted for the client address,
// highest trust first. The connection peer is consulted after all of them.
var IPHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Forwarded",
	"X-Cluster-Client-IP",
	"Forwarded-For",
	"Forwarded",
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)\s*>`)
	markup      = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Extract returns all three request attributes.
func Extract(r *http.Request) Info {
	return Info{
		UserAgent: UserAgent(r),
		IP:        ClientIP(r),
		Path:      RequestPath(r),
	}
}

// UserAgent returns the sanitized User-Agent header, or "" when absent.
func UserAgent(r *http.Request) string {
	raw := r.Header.Get("User-Agent")
	if raw == "" {
		return ""
	}
	return sanitizeText(raw)
}

// RequestPath returns the raw request URI (path and query) with markup and control
// characters removed, or "" when absent.
func RequestPath(r *http.Request) string {
	raw := r.RequestURI
	if raw == "" && r.URL != nil {
		raw = r.URL.RequestURI()
	}
	if raw == "" {
		return ""
	}
	raw = scriptBlock.ReplaceAllString(raw, "")
	raw = markup.ReplaceAllString(raw, "")
	return stripControl(raw)
}

// ClientIP scans IPHeaders in order and returns the first candidate that is a well-formed
// public address. When nothing validates the connection peer is returned unfiltered, so
// detection keeps working behind misconfigured proxies.
func ClientIP(r *http.Request) string {
	for _, header := range IPHeaders {
		candidate := firstAddress(r.Header.Get(header))
		if candidate == "" {
			continue
		}
		if addr, ok := parsePublic(candidate); ok {
			return addr.String()
		}
	}
	if addr, ok := parsePublic(r.RemoteAddr); ok {
		return addr.String()
	}
	return peerHost(r.RemoteAddr)
}

// IsPublic reports whether ip is a routable unicast address outside the private and
// reserved ranges.
func IsPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() ||
		addr.IsInterfaceLocalMulticast() {
		return false
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func firstAddress(value string) string {
	if value == "" {
		return ""
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimSpace(value)
	// RFC 7239: Forwarded: for=192.0.2.60;proto=http;by=203.0.113.43
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "for=") {
			return strings.Trim(part[4:], `"`)
		}
	}
	return value
}

func parsePublic(candidate string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(candidate)
	if err != nil {
		ap, apErr := netip.ParseAddrPort(candidate)
		if apErr != nil {
			return netip.Addr{}, false
		}
		addr = ap.Addr()
	}
	if !IsPublic(addr) {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func peerHost(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

func sanitizeText(raw string) string {
	raw = scriptBlock.ReplaceAllString(raw, "")
	cleaned := sanitize.HTML(raw)
	// sanitize.HTML returns entity-escaped text; markup that was only escaped is removed again.
	cleaned = markup.ReplaceAllString(html.UnescapeString(cleaned), "")
	cleaned = stripControl(cleaned)
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

func stripControl(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != ' ' {
			return -1
		}
		return r
	}, s)
}
