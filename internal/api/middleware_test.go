package api

import (
	"context"
	"io"
	"jobexecutor/internal/observability"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoute_UsesMatchedPattern(t *testing.T) {
	t.Parallel()

	type seen struct{ route, logID string }
	var got seen
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			got = seen{route: route(r), logID: r.PathValue("logId")}
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/{logId}/log", func(w http.ResponseWriter, r *http.Request) {})
	h := capture(mux)

	tests := []struct {
		path string
		want seen
	}{
		{"/v1/runs/42/log", seen{route: "/v1/runs/{logId}/log", logID: "42"}},
		{"/nope/42", seen{route: "unmatched"}},
	}
	for _, tt := range tests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_RecordsRouteNotID(t *testing.T) {
	t.Parallel()
	metrics, scrape, err := observability.NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/{logId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := MetricsMiddleware(metrics)(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/runs/98765", nil))

	rec := httptest.NewRecorder()
	scrape.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `path="/v1/runs/{logId}"`) {
		t.Errorf("scrape missing route label:\n%s", body)
	}
	if strings.Contains(string(body), "98765") {
		t.Error("log id leaked into a metric label")
	}
	if !strings.Contains(string(body), `status="4xx"`) {
		t.Error("scrape missing status class")
	}
}

func TestAuthMiddleware_Challenge(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"empty token", "s3cret", "Bearer ", http.StatusUnauthorized},
		{"lower-case scheme", "s3cret", "bearer s3cret", http.StatusOK},
		{"no scheme", "s3cret", "s3cret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			AuthMiddleware(tt.key)(inner).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if w.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate challenge")
				}
				if !strings.Contains(w.Body.String(), `"error"`) {
					t.Errorf("body = %s, want JSON error", w.Body.String())
				}
			}
		})
	}
}

func TestRecoveryMiddleware_JSONBody(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil orchestrator")
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware()(inner).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/runs/3", nil))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %s", w.Body.String())
	}
}
