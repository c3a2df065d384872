package admin

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func auditEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("parse audit log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestAudit_LogsMutatingRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := AuditMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/invariants/run", nil)
	req.SetBasicAuth("operator", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	entries := auditEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry["msg"] != "admin API audit" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["method"] != "POST" {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/admin/v1/invariants/run" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["user"] != "operator" {
		t.Errorf("user = %v, want operator", entry["user"])
	}
	if entry["response_status"].(float64) != http.StatusAccepted {
		t.Errorf("response_status = %v, want 202", entry["response_status"])
	}
	if entry["request_id"] == "" {
		t.Error("request_id missing")
	}
}

func TestAudit_SkipsReads(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := AuditMiddleware(logger, okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/admin/v1/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", method, rec.Code)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("read requests were audited: %s", buf.String())
	}
}

func TestAudit_CapturesImplicitStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	// Handler writes a body without calling WriteHeader.
	h := AuditMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/invariants/run", nil))

	entries := auditEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	if entries[0]["response_status"].(float64) != http.StatusOK {
		t.Errorf("response_status = %v, want 200", entries[0]["response_status"])
	}
}
