package main

import (
	"net/http"
	"net/url"
	"strings"
)

func defaultAllowedOrigins() []string {
	return []string{
		"http://localhost:4200",
		"http://127.0.0.1:4200",
		"http://localhost:8000",
		"http://127.0.0.1:8000",
	}
}

func parseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return defaultAllowedOrigins()
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		out = append(out, origin)
	}
	if len(out) == 0 {
		return defaultAllowedOrigins()
	}
	return out
}

func normalizeOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// originPolicy decides which browser origins may open a websocket.
type originPolicy map[string]struct{}

func newOriginPolicy(origins []string) originPolicy {
	p := make(originPolicy, len(origins))
	for _, origin := range origins {
		if normalized := normalizeOrigin(origin); normalized != "" {
			p[normalized] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allowed(origin string) bool {
	normalized := normalizeOrigin(origin)
	if normalized == "" {
		return false
	}
	_, ok := p[normalized]
	return ok
}

// checkOrigin accepts non-browser clients, which send no Origin header.
func (p originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.allowed(origin)
}

func (p originPolicy) list() []string {
	out := make([]string, 0, len(p))
	for origin := range p {
		out = append(out, origin)
	}
	return out
}
