package admin

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type actorKey struct{}

// localActor names changes made by unauthenticated loopback callers.
const localActor = "localhost"

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is not trusted.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// presentedKey extracts an API key from "Authorization: Bearer <key>" or
// the X-API-Key header.
func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// adminAuthMiddleware authenticates admin API callers.
//
// With no keys configured only loopback callers are accepted. With keys
// configured every caller must present a valid key, loopback included.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.keys.Len() == 0 {
			if !isLocalhost(r) {
				h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), localActor)))
			return
		}

		raw := presentedKey(r)
		if raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="access-gate"`)
			h.respondError(w, http.StatusUnauthorized, "api key required")
			return
		}
		name, err := h.keys.Authenticate(raw)
		if err != nil {
			h.requestLogger(r).Warn("admin api key rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Bearer realm="access-gate", error="invalid_token"`)
			h.respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), "key:"+name)))
	})
}

func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// actorFromContext returns the authenticated caller, used as the audit actor.
func actorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return "unknown"
}
