package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

const referenceJSON = `[{"source":"A","destination":"B","amount":150000,"remarks":"test payment"}]`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestAnalyzeLocal(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		result, err := analyzeLocal(context.Background(), writeFile(t, "batch.json", referenceJSON), "")
		if err != nil {
			t.Fatalf("analyzeLocal failed: %v", err)
		}
		if len(result.Risks) != 2 || result.Risks[0].Account != "A" || result.Risks[0].RiskScore != 85 {
			t.Errorf("unexpected risks: %+v", result.Risks)
		}
	})

	t.Run("CSV", func(t *testing.T) {
		path := writeFile(t, "batch.CSV", "source,destination,amount,remarks\nA,B,150000,test payment\n")
		result, err := analyzeLocal(context.Background(), path, "")
		if err != nil {
			t.Fatalf("analyzeLocal failed: %v", err)
		}
		if result.Summary.Transactions != 1 || result.Risks[0].RiskScore != 85 {
			t.Errorf("unexpected analysis: %+v", result.Summary)
		}
	})

	t.Run("BadRulesFile", func(t *testing.T) {
		_, err := analyzeLocal(context.Background(), writeFile(t, "batch.json", referenceJSON), "/nonexistent/rules.json")
		if err == nil {
			t.Error("expected error for missing rules file")
		}
	})

	t.Run("InvalidBatch", func(t *testing.T) {
		_, err := analyzeLocal(context.Background(), writeFile(t, "batch.json", `42`), "")
		if err == nil {
			t.Error("expected error for scalar batch")
		}
	})
}

func TestAnalyzeRemote(t *testing.T) {
	var gotTenant, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/analyze":
			gotTenant = r.Header.Get("X-Tenant-ID")
			gotType = r.Header.Get("Content-Type")
			json.NewEncoder(w).Encode(domain.Analysis{
				Risks:   []domain.RiskRecord{{Account: "A", RiskScore: 85, Tier: domain.TierCritical}},
				Summary: domain.AnalysisSummary{Transactions: 1, Accounts: 1},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	result, err := analyzeRemote(context.Background(), writeFile(t, "batch.csv", "source\nA\n"), srv.URL+"/", "bank-a")
	if err != nil {
		t.Fatalf("analyzeRemote failed: %v", err)
	}
	if gotTenant != "bank-a" || gotType != "text/csv" {
		t.Errorf("unexpected request headers: tenant=%q type=%q", gotTenant, gotType)
	}
	if len(result.Risks) != 1 || result.Risks[0].Account != "A" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAnalyzeRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		http.Error(w, `{"error":"invalid batch"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := analyzeRemote(context.Background(), writeFile(t, "batch.json", referenceJSON), srv.URL, "bank-a")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestPrintReport(t *testing.T) {
	result, err := analyzeLocal(context.Background(), writeFile(t, "batch.json", referenceJSON), "")
	if err != nil {
		t.Fatalf("analyzeLocal failed: %v", err)
	}

	var buf bytes.Buffer
	printReport(&buf, "batch.json", result, result.Risks, true, time.Millisecond)
	out := buf.String()

	for _, want := range []string{
		"Transactions:  1",
		"Incomplete:    1",
		"85.0",
		"₹150,000",
		"High-value transfer: ₹150,000 from A to B",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
