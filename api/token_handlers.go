package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/token"
)

func actorID(r *http.Request) string {
	id, _ := authn.IdentityFromContext(r.Context())
	return id.UserID
}

// IssueToken handles POST /scopes/{scopeID}/tokens. The plaintext token
// appears in this response only.
func (a *API) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = decodeJSON[IssueTokenRequest](w, r, maxRequestBodySize); !ok {
			return
		}
	}

	issued, err := a.tokens.Issue(r.Context(), chi.URLParam(r, "scopeID"), req.Name)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.tokenChanged(r, AuditTokenIssued, actorID(r), issued.ID, issued.ScopeID)
	writeJSON(w, http.StatusCreated, issued)
}

// ListTokens handles GET /scopes/{scopeID}/tokens.
func (a *API) ListTokens(w http.ResponseWriter, r *http.Request) {
	all, err := a.tokens.List(r.Context(), chi.URLParam(r, "scopeID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	page, meta := paginate(r, all)
	writeJSON(w, http.StatusOK, ListTokensResponse{Tokens: page, PaginationMeta: meta})
}

// DeleteToken handles DELETE /tokens/{tokenID}.
func (a *API) DeleteToken(w http.ResponseWriter, r *http.Request) {
	a.revoke(w, r, token.RevokeHard, AuditTokenDeleted)
}

// RevokeToken handles POST /tokens/{tokenID}/revoke.
func (a *API) RevokeToken(w http.ResponseWriter, r *http.Request) {
	a.revoke(w, r, token.RevokeSoft, AuditTokenRevoked)
}

func (a *API) revoke(w http.ResponseWriter, r *http.Request, mode token.RevokeMode, event AuditEvent) {
	id := chi.URLParam(r, "tokenID")
	if err := a.tokens.Revoke(r.Context(), id, mode); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.tokenChanged(r, event, actorID(r), id, "")
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot handles GET /sdk/v1/snapshot. It echoes the scope the bearer
// token resolved to; assembling the flag payload belongs to the API process
// behind the gateway.
func (a *API) Snapshot(w http.ResponseWriter, r *http.Request) {
	b, _ := authn.ScopeFromContext(r.Context())
	writeJSON(w, http.StatusOK, SnapshotResponse{EnvironmentID: b.EnvironmentID, ProjectID: b.ProjectID})
}
