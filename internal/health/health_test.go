package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tan-res-space/rag-interface/internal/health"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "database", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "journal", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status=%q, want ok", body.Status)
	}
	if body.Checks["database"] != "ok" || body.Checks["journal"] != "ok" {
		t.Errorf("checks=%v", body.Checks)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status=%q, want fail", body.Status)
	}
	if body.Checks["database"] != "fail: connection refused" {
		t.Errorf("checks=%v", body.Checks)
	}
}
