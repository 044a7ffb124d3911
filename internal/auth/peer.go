// peer.go -- Transport peer address for rate limit keys.
//
// chi's RealIP rewrites RemoteAddr from X-Forwarded-For / X-Real-IP, which any
// client can set. PeerAddr runs ahead of it and keeps the address the
// connection actually came from.
package auth

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const peerKey contextKey = "peer"

// PeerAddr records r.RemoteAddr in the request context.
// Must be mounted before middleware.RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerKey, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseTrustedProxies parses a list of CIDRs or bare IPs.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// clientIP returns the address to rate limit r on.
// That is the transport peer recorded by PeerAddr, unless the peer is a
// trusted proxy, in which case the RealIP-rewritten RemoteAddr is used.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	forwarded := hostOf(r.RemoteAddr)
	peer, ok := r.Context().Value(peerKey).(string)
	if !ok {
		return forwarded
	}
	peerHost := hostOf(peer)
	if addr, err := netip.ParseAddr(peerHost); err == nil {
		addr = addr.Unmap()
		for _, p := range trusted {
			if p.Contains(addr) {
				return forwarded
			}
		}
	}
	return peerHost
}

// hostOf strips the port from addr, if it has one.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
