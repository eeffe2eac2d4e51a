package api

import (
	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/token"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// IdentityResponse is returned from POST /auth/login and GET /auth/me.
type IdentityResponse struct {
	UserID string     `json:"userId"`
	Role   authn.Role `json:"role"`
	Email  string     `json:"email,omitempty"`
}

// IssueTokenRequest is the optional JSON body for POST /scopes/{scopeID}/tokens.
type IssueTokenRequest struct {
	Name string `json:"name,omitempty"`
}

// ListTokensResponse is returned from GET /scopes/{scopeID}/tokens.
type ListTokensResponse struct {
	Tokens []token.Summary `json:"tokens"`
	PaginationMeta
}

// SnapshotResponse echoes the scope a service token resolved to.
type SnapshotResponse struct {
	EnvironmentID string `json:"environmentId,omitempty"`
	ProjectID     string `json:"projectId"`
}
