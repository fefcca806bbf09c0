package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{42, "42"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", Handler())

	req := httptest.NewRequest(http.MethodGet, "/batches/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	// Gauges always appear; counters only after first observation.
	if !strings.Contains(body, "mulewatch_loaded_rules") {
		t.Error("Expected metrics output to contain mulewatch_loaded_rules")
	}
	if !strings.Contains(body, `mulewatch_http_requests_total{method="GET",path="/batches/{id}",status="4xx"}`) {
		t.Error("Expected request counter labelled by route pattern")
	}
}
