// Mulescan analyzes a transaction batch file for money mule patterns.
//
// Usage:
//
//	go run ./cmd/mulescan -file /path/to/batch.json
//	go run ./cmd/mulescan -file /path/to/batch.csv -url http://localhost:8080 -tenant bank-a
//
// Without -url the batch is analyzed in-process with the built-in rule table
// (or -rules). With -url it is posted to a running server's /analyze endpoint.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/mulewatch/internal/analysis"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/rules"
	"github.com/opensource-finance/mulewatch/internal/scoring"
)

func main() {
	// Parse flags
	filePath := flag.String("file", "", "Path to a JSON or CSV batch file")
	baseURL := flag.String("url", "", "Mulewatch base URL (empty = analyze locally)")
	tenantID := flag.String("tenant", "mulescan", "Tenant ID for remote requests")
	rulesPath := flag.String("rules", "", "JSON rule file for local analysis")
	top := flag.Int("top", 20, "Number of accounts to print (0 = all)")
	minTier := flag.String("tier", "", "Only print accounts at or above this tier")
	asJSON := flag.Bool("json", false, "Print the full analysis as JSON")
	verbose := flag.Bool("verbose", false, "Print every pattern match")
	timeout := flag.Duration("timeout", 30*time.Second, "Analysis timeout")
	flag.Parse()

	if *filePath == "" {
		fmt.Println("Usage: mulescan -file /path/to/batch.json [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var (
		result *domain.Analysis
		err    error
	)
	if *baseURL == "" {
		result, err = analyzeLocal(ctx, *filePath, *rulesPath)
	} else {
		result, err = analyzeRemote(ctx, *filePath, *baseURL, *tenantID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		return
	}

	risks := result.Risks
	if *minTier != "" {
		risks = scoring.AtOrAbove(risks, domain.RiskTier(*minTier))
	}
	if *top > 0 && len(risks) > *top {
		risks = risks[:*top]
	}

	printReport(os.Stdout, *filePath, result, risks, *verbose, time.Since(start))
}

// analyzeLocal runs the pipeline in-process.
func analyzeLocal(ctx context.Context, path, rulesPath string) (*domain.Analysis, error) {
	records, err := loadRecords(path)
	if err != nil {
		return nil, err
	}

	configs := rules.DefaultRules()
	if rulesPath != "" {
		if configs, err = rules.LoadRulesFile(rulesPath); err != nil {
			return nil, err
		}
	}

	engine, err := rules.NewEngine(configs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	defer engine.Close()

	return analysis.NewAnalyzer(engine, nil, nil).Run(ctx, domain.NormalizeBatch(records))
}

// analyzeRemote posts the file to a running server.
func analyzeRemote(ctx context.Context, path, baseURL, tenantID string) (*domain.Analysis, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := checkHealth(ctx, baseURL); err != nil {
		return nil, fmt.Errorf("mulewatch not reachable at %s: %w", baseURL, err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType(path))
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result domain.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func checkHealth(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// loadRecords reads a batch file; .csv files are read as CSV, anything else as JSON.
func loadRecords(path string) ([]domain.RawTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if contentType(path) == "text/csv" {
		return domain.ParseCSVBatch(file)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return domain.ParseBatch(data)
}

func contentType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return "text/csv"
	}
	return "application/json"
}
