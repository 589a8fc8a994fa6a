// internal/reqinfo/reqinfo.go
//
// Per-request metadata helpers: caller identity, bot flag, and language.
//
// Context
// -------
// The loop guard needs a stable identity for "the same caller," and the
// dispatcher needs the request language for hash lookup.  Neither is worth a
// session store: the identity is a short hash of client IP plus User-Agent,
// which groups one browser behind one address without holding anything a
// request doesn't already carry.  Bot classification (uasurfer) is attached
// so operators can separate crawler storms from real users in the logs.
//
// Dependencies
// • github.com/avct/uasurfer (UA parsing, crawler signatures)
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package reqinfo

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"
)

// Info is the slice of request metadata the redirect pipeline consumes.
type Info struct {
	CallerID string // short hash of IP + UA
	IP       string
	Language string // base tag from Accept-Language, or ""
	IsBot    bool
}

// FromRequest extracts Info from a request.  Cheap enough to call per
// request; no allocation beyond the hash.
func FromRequest(r *http.Request) Info {
	ip := clientIP(r)
	ua := r.UserAgent()

	sum := sha256.Sum256([]byte(ip + "\x00" + ua))

	return Info{
		CallerID: hex.EncodeToString(sum[:8]),
		IP:       ip,
		Language: PrimaryLanguage(r),
		IsBot:    uasurfer.Parse(ua).IsBot(),
	}
}

// PrimaryLanguage returns the base tag of the first Accept-Language entry,
// lowercased ("en-US;q=0.9, de" → "en").  Empty when the header is absent.
func PrimaryLanguage(r *http.Request) string {
	al := r.Header.Get("Accept-Language")
	if al == "" {
		return ""
	}
	first := al
	if i := strings.IndexByte(first, ','); i != -1 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, ';'); i != -1 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, '-'); i != -1 {
		first = first[:i]
	}
	return strings.ToLower(strings.TrimSpace(first))
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket address.  Forwarded headers are only as trustworthy as the proxy in
// front; deployments without one see the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(first, ','); i != -1 {
			first = first[:i]
		}
		return strings.TrimSpace(first)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
