package api

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/togglehq/gatehouse/internal/uuid"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLogout           AuditEvent = "logout"
	AuditTokenIssued      AuditEvent = "token_issued"
	AuditTokenRevoked     AuditEvent = "token_revoked"
	AuditTokenDeleted     AuditEvent = "token_deleted"
	AuditTokenAuthFailure AuditEvent = "token_auth_failure"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

func (e AuditEvent) outcome() string {
	switch e {
	case AuditLoginFailure, AuditLoginRateLimited, AuditTokenAuthFailure:
		return outcomeFailure
	default:
		return outcomeSuccess
	}
}

// auditRecord is one audit entry. The same value is written to the log and
// POSTed to the audit webhook. It never carries a credential or token
// plaintext.
type auditRecord struct {
	ID        string     `json:"id"`
	Event     AuditEvent `json:"event"`
	Outcome   string     `json:"outcome"`
	Actor     string     `json:"actor,omitempty"`
	ClientIP  string     `json:"client_ip,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	TokenID   string     `json:"token_id,omitempty"`
	ScopeID   string     `json:"scope_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (rec auditRecord) attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit_id", rec.ID),
		slog.String("event", string(rec.Event)),
		slog.String("outcome", rec.Outcome),
		slog.String("timestamp", rec.Timestamp.Format(time.RFC3339)),
	}
	for _, kv := range [...]struct{ key, val string }{
		{"actor", rec.Actor},
		{"client_ip", rec.ClientIP},
		{"request_id", rec.RequestID},
		{"token_id", rec.TokenID},
		{"scope_id", rec.ScopeID},
		{"reason", rec.Reason},
	} {
		if kv.val != "" {
			attrs = append(attrs, slog.String(kv.key, kv.val))
		}
	}
	return attrs
}

// auditLogger writes audit records to slog and fans them out to the
// metrics collector and webhook when configured.
type auditLogger struct {
	logger   *slog.Logger
	metrics  *metricsCollector
	webhook  *auditWebhook
	now      func() time.Time
	clientIP func(*http.Request) string
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
		clientIP: func(r *http.Request) string {
			return extractClientIPWithProxies(r, nil)
		},
	}
}

// record completes rec from r and emits it.
func (al *auditLogger) record(r *http.Request, rec auditRecord) {
	rec.ID = uuid.New()
	rec.Outcome = rec.Event.outcome()
	rec.Timestamp = al.now().UTC().Truncate(time.Second)
	rec.ClientIP = al.clientIP(r)
	rec.RequestID = chimw.GetReqID(r.Context())

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", rec.attrs()...)

	if al.metrics != nil {
		al.metrics.recordEvent(rec.Event)
	}
	if al.webhook != nil {
		al.webhook.enqueue(rec)
	}
}

// succeeded records an action performed by actor.
func (al *auditLogger) succeeded(r *http.Request, event AuditEvent, actor string) {
	al.record(r, auditRecord{Event: event, Actor: actor})
}

// tokenChanged records an administrator action on a service token.
func (al *auditLogger) tokenChanged(r *http.Request, event AuditEvent, actor, tokenID, scopeID string) {
	al.record(r, auditRecord{Event: event, Actor: actor, TokenID: tokenID, ScopeID: scopeID})
}

// rejected records a refused authentication attempt.
func (al *auditLogger) rejected(r *http.Request, event AuditEvent, reason string) {
	al.record(r, auditRecord{Event: event, Reason: reason})
}
