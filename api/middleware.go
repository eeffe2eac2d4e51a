package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/togglehq/gatehouse/authn"
)

// SessionMiddleware admits requests carrying a valid administrator session
// cookie and stores the identity on the request context.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.sessions.Authenticate(r)
		if err != nil {
			a.mapError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(authn.ContextWithIdentity(r.Context(), id)))
	})
}

// BearerMiddleware admits requests carrying a live service token and stores
// the resolved scope on the request context. The store is consulted on
// every request.
func (a *API) BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		binding, err := a.tokens.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if errors.Is(err, authn.ErrUnauthenticated) {
				a.audit.rejected(r, AuditTokenAuthFailure, "invalid service token")
				w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
			}
			a.mapError(w, r, err)
			return
		}
		a.logger.DebugContext(r.Context(), "service token accepted", slog.String("token_id", binding.TokenID))
		next.ServeHTTP(w, r.WithContext(authn.ContextWithScope(r.Context(), binding)))
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
