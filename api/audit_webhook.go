package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize   = 1024
	webhookMaxAttempts = 2
	webhookUserAgent   = "Gatehouse-Audit-Webhook/1.0"
)

// auditWebhook mirrors audit records to an external collector. enqueue
// never blocks the request path: records go into a bounded queue drained
// by one goroutine, and overflow is dropped with a warning.
//
// Each POST carries the record id as Idempotency-Key, so a collector can
// discard the duplicate a retry may produce.
type auditWebhook struct {
	url        string
	authName   string
	authValue  string
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	records    chan auditRecord
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// newAuditWebhook starts the dispatcher. authHeader has the form
// "Header-Name: value"; anything else is ignored.
func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &auditWebhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: time.Second,
		records:    make(chan auditRecord, webhookQueueSize),
	}
	if name, value, ok := strings.Cut(authHeader, ":"); ok {
		w.authName, w.authValue = strings.TrimSpace(name), strings.TrimSpace(value)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(rec auditRecord) {
	select {
	case w.records <- rec:
	default:
		w.logger.Warn("queue full, dropping audit record", "event", string(rec.Event), "audit_id", rec.ID)
	}
}

// close delivers everything already queued, then stops the dispatcher.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.records)
		w.wg.Wait()
	})
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for rec := range w.records {
		w.send(rec)
	}
}

// send delivers rec, retrying once after a 5xx or transport failure.
func (w *auditWebhook) send(rec auditRecord) {
	body, err := json.Marshal(rec)
	if err != nil {
		w.logger.Warn("encoding audit record failed", "audit_id", rec.ID, "error", err)
		return
	}

	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		retry, err := w.post(rec.ID, body)
		if err == nil {
			return
		}
		w.logger.Warn("audit delivery failed",
			"event", string(rec.Event),
			"audit_id", rec.ID,
			"attempt", attempt,
			"error", err)
		if !retry {
			return
		}
	}
}

// post makes one delivery attempt. retry reports whether another attempt
// could succeed.
func (w *auditWebhook) post(id string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("Idempotency-Key", id)
	if w.authName != "" {
		req.Header.Set(w.authName, w.authValue)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("collector returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("collector rejected record with %d", resp.StatusCode)
	}
}
