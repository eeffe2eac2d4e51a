package api

import (
	"errors"
	"net/http"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/session"
)

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	clientIP := a.clientIP(r)
	id, cookie, err := a.sessions.Login(r.Context(), clientIP, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRateLimited):
			a.audit.rejected(r, AuditLoginRateLimited, "rate limited")
		case errors.Is(err, authn.ErrUnauthenticated):
			a.audit.rejected(r, AuditLoginFailure, "invalid credentials")
		}
		a.mapError(w, r, err)
		return
	}

	http.SetCookie(w, cookie)
	a.writeCSRFCookie(w, r, cookie.Expires)
	a.audit.succeeded(r, AuditLoginSuccess, id.UserID)
	writeJSON(w, http.StatusOK, IdentityResponse{UserID: id.UserID, Role: id.Role, Email: id.Email})
}

// Logout handles POST /auth/logout for an authenticated session.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.IdentityFromContext(r.Context())
	a.sessions.Logout(w)
	a.clearCSRFCookie(w, r)
	a.audit.succeeded(r, AuditLogout, id.UserID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// Me handles GET /auth/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.IdentityFromContext(r.Context())
	resp := IdentityResponse{UserID: id.UserID, Role: id.Role}
	if a.admins != nil {
		if configured, _, err := a.admins.Resolve(); err == nil && configured.UserID == id.UserID {
			resp.Email = configured.Email
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
