// Package api serves the administrator dashboard API and the SDK endpoints
// behind the session and service-token authenticators.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-openapi/runtime/middleware"

	"github.com/togglehq/gatehouse/admin"
	"github.com/togglehq/gatehouse/session"
	"github.com/togglehq/gatehouse/token"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	sessions *session.Authenticator
	tokens   *token.Service
	admins   *admin.Resolver

	logger         *slog.Logger
	audit          *auditLogger
	alertFn        AlertFunc
	webhookURL     string
	webhookAuth    string
	webhook        *auditWebhook
	trustedProxies []netip.Prefix
	allowedOrigins []string
	secureCookies  bool
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and audit
// events. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc registers a callback for anomaly alerts raised from the
// audit stream.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook mirrors audit events to url. authHeader, if set, has
// the form "Header-Name: value".
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// WithTrustedProxies lets proxy headers determine the client address when
// the direct peer is inside one of prefixes.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithAllowedOrigins enables credentialed CORS for the listed origins.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		a.allowedOrigins = origins
	}
}

// WithSecureCookies marks the CSRF cookie Secure regardless of how the
// request arrived.
func WithSecureCookies(secure bool) Option {
	return func(a *API) {
		a.secureCookies = secure
	}
}

// New creates a new API instance. admins may be nil, in which case
// GET /auth/me omits the email.
func New(sessions *session.Authenticator, tokens *token.Service, admins *admin.Resolver, opts ...Option) *API {
	a := &API{
		sessions: sessions,
		tokens:   tokens,
		admins:   admins,
		logger:   slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.webhookURL != "" {
		a.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth, a.logger)
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.webhook = a.webhook
	a.audit.clientIP = a.clientIP
	a.logger = a.logger.With("component", "api")
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	return a
}

// Close flushes queued audit webhook deliveries.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	// Preflight requests never reach a route, so CORS wraps the whole mux.
	if len(a.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", csrfHeaderName},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(a.CSRFMiddleware)

		r.Post("/auth/login", a.Login)
		r.With(a.SessionMiddleware).Post("/auth/logout", a.Logout)
		r.With(a.SessionMiddleware).Get("/auth/me", a.Me)

		r.With(a.SessionMiddleware).Post("/scopes/{scopeID}/tokens", a.IssueToken)
		r.With(a.SessionMiddleware).Get("/scopes/{scopeID}/tokens", a.ListTokens)
		r.With(a.SessionMiddleware).Delete("/tokens/{tokenID}", a.DeleteToken)
		r.With(a.SessionMiddleware).Post("/tokens/{tokenID}/revoke", a.RevokeToken)
	})

	return r
}

// SDKRouter returns the service-token routes. It is mounted at /sdk beside
// the dashboard API so the edge can relay /sdk/* paths unchanged.
func (a *API) SDKRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.BearerMiddleware)

	r.Get("/v1/snapshot", a.Snapshot)

	return r
}
