package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const limiterCapacity = 4096

// authLimiter allows at most limit auth attempts per address in any rolling
// span. Each address keeps the timestamps of its accepted attempts; the LRU
// bounds memory and forgets addresses idle for a full span.
type authLimiter struct {
	mu       sync.Mutex
	limit    int
	span     time.Duration
	now      func() time.Time
	attempts *expirable.LRU[string, []time.Time]
}

func newAuthLimiter(limit int, span time.Duration) *authLimiter {
	if span <= 0 {
		span = time.Minute
	}
	return &authLimiter{
		limit:    limit,
		span:     span,
		now:      time.Now,
		attempts: expirable.NewLRU[string, []time.Time](limiterCapacity, nil, span),
	}
}

// Allow records an attempt from addr and reports whether it is within limit.
// Refused attempts are not recorded. A non-positive limit disables limiting.
func (l *authLimiter) Allow(addr string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.span)
	prev, _ := l.attempts.Peek(addr)
	recent := make([]time.Time, 0, len(prev)+1)
	for _, ts := range prev {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.limit {
		l.attempts.Add(addr, recent)
		return false
	}
	l.attempts.Add(addr, append(recent, now))
	return true
}

// clientAddr returns the address auth attempts are limited by. The peer
// address is used unless the peer is a trusted proxy, in which case the
// right-most X-Forwarded-For hop that is not itself trusted is used.
func clientAddr(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrusted(peer, trusted) {
		return peer
	}
	fwd := r.Header.Values("X-Forwarded-For")
	hops := strings.Split(strings.Join(fwd, ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
	}
	return peer
}

func isTrusted(addr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseTrustedProxies accepts plain IPs and CIDR blocks.
func parseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, &net.ParseError{Type: "IP address", Text: entry}
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
