package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/tracing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestTenantMiddleware(t *testing.T) {
	var seen string
	h := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTenantID(r.Context())
	}))

	t.Run("Accepted", func(t *testing.T) {
		for _, id := range []string{"tenant-001", "ACME_bank", strings.Repeat("x", domain.MaxTenantIDLength)} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(TenantIDHeader, id)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK || seen != id {
				t.Errorf("%q: expected 200 with tenant in context, got %d and %q", id, rr.Code, seen)
			}
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		cases := map[string]string{
			"Missing":  "",
			"Reserved": domain.GlobalTenantID,
			"Space":    "tenant 1",
			"Colon":    "tenant:1",
			"Wildcard": "tenant.>",
			"TooLong":  strings.Repeat("x", domain.MaxTenantIDLength+1),
		}
		for name, id := range cases {
			t.Run(name, func(t *testing.T) {
				seen = ""
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				if id != "" {
					req.Header.Set(TenantIDHeader, id)
				}
				rr := httptest.NewRecorder()
				h.ServeHTTP(rr, req)

				if rr.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rr.Code)
				}
				if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("expected JSON error, got content type %q", ct)
				}
				if seen != "" {
					t.Error("handler must not run for a rejected tenant")
				}
			})
		}
	})

	t.Run("ThroughServer", func(t *testing.T) {
		server := createTestServer(t, domain.AnalysisConfig{}, nil)
		rr := do(server, http.MethodPost, "/analyze", domain.GlobalTenantID, "[]")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for the reserved tenant, got %d", rr.Code)
		}
	})
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://console.example"})(http.HandlerFunc(okHandler))

	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	t.Run("AllowedPreflight", func(t *testing.T) {
		rr := preflight(h, "https://console.example")
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
			t.Errorf("expected origin echoed, got %q", got)
		}
		if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("expected credentials for an explicitly allowed origin")
		}
		methods := rr.Header().Get("Access-Control-Allow-Methods")
		if !strings.Contains(methods, http.MethodDelete) || strings.Contains(methods, http.MethodPut) {
			t.Errorf("unexpected allowed methods %q", methods)
		}
		if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), TenantIDHeader) {
			t.Error("tenant header must be allowed")
		}
	})

	t.Run("UnknownOriginPreflight", func(t *testing.T) {
		rr := preflight(h, "https://evil.example")
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unknown origin must not be allowed")
		}
	})

	t.Run("UnknownOriginSimpleRequest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Errorf("expected plain pass-through, got %d %v", rr.Code, rr.Header())
		}
	})

	t.Run("Wildcard", func(t *testing.T) {
		rr := preflight(CORS([]string{"*"})(http.HandlerFunc(okHandler)), "https://any.example")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected *, got %q", got)
		}
		if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Error("wildcard must not allow credentials")
		}
	})

	t.Run("SameOrigin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Header().Get("Vary") != "" {
			t.Error("requests without Origin get no CORS handling")
		}
	})

	t.Run("ThroughServer", func(t *testing.T) {
		server := NewServer(domain.ServerConfig{AllowedOrigins: []string{"https://console.example"}}, Options{})
		rr := preflight(server.Router(), "https://console.example")
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
	})
}

func TestTracingMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := tracing.Init(context.Background(), domain.TracingConfig{}, logger); err != nil {
		t.Fatalf("tracing init failed: %v", err)
	}

	t.Run("ContinuesTraceparent", func(t *testing.T) {
		var inHandler string
		r := chi.NewRouter()
		r.Use(TracingMiddleware)
		r.Get("/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
			inHandler = GetTraceID(r.Context())
		})

		req := httptest.NewRequest(http.MethodGet, "/batches/b1", nil)
		req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		const want = "4bf92f3577b34da6a3ce929d0e0e4736"
		if got := rr.Header().Get(TraceIDHeader); got != want {
			t.Errorf("expected trace id %s, got %q", want, got)
		}
		if inHandler != want {
			t.Errorf("expected trace id in handler context, got %q", inHandler)
		}
	})

	t.Run("FallsBackToRequestID", func(t *testing.T) {
		h := TracingMiddleware(http.HandlerFunc(okHandler))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-9")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if got := rr.Header().Get(TraceIDHeader); got != "req-9" {
			t.Errorf("expected request id as trace id, got %q", got)
		}
	})
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Errorf("expected JSON error body, got %q", rr.Body.String())
	}
}

func TestLoggingMiddlewareStatus(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("logging must not alter the response, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestServerLifecycle(t *testing.T) {
	server := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, Options{})
	if server.Addr() != "127.0.0.1:0" {
		t.Errorf("unexpected addr %s", server.Addr())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("clean shutdown should make Start return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
