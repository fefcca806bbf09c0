package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

func printReport(w io.Writer, source string, result *domain.Analysis, risks []domain.RiskRecord, verbose bool, duration time.Duration) {
	s := result.Summary

	fmt.Fprintln(w, "+---------------------------------------------------------------+")
	fmt.Fprintln(w, "|                  MULESCAN - Batch Risk Report                 |")
	fmt.Fprintln(w, "+---------------------------------------------------------------+")
	fmt.Fprintf(w, "\nSource:        %s\n", source)
	fmt.Fprintf(w, "Transactions:  %d\n", s.Transactions)
	fmt.Fprintf(w, "Accounts:      %d\n", s.Accounts)
	fmt.Fprintf(w, "Matches:       %d\n", len(result.Patterns))
	fmt.Fprintf(w, "Graph:         %d nodes, %d edges\n", s.Nodes, s.Edges)
	if s.Incomplete > 0 {
		fmt.Fprintf(w, "Incomplete:    %d records had defaulted fields\n", s.Incomplete)
	}

	fmt.Fprintln(w, "\nTIERS")
	for _, tier := range domain.Tiers {
		fmt.Fprintf(w, "   %-9s %d\n", tier, s.TierCounts[tier])
	}

	fmt.Fprintln(w, "\nRISK RANKING")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "   #\tACCOUNT\tSCORE\tTIER\tAMOUNT\tTXNS\tPATTERNS")
	for i, r := range risks {
		patterns := make([]string, len(r.Patterns))
		for j, p := range r.Patterns {
			patterns[j] = string(p)
		}
		fmt.Fprintf(tw, "   %d\t%s\t%.1f\t%s\t%s\t%d\t%s\n",
			i+1, r.Account, r.RiskScore, r.Tier, domain.FormatAmount(r.TotalAmount), r.TransactionCount, strings.Join(patterns, ", "))
	}
	tw.Flush()

	if len(risks) == 0 {
		fmt.Fprintln(w, "   (no accounts)")
	}

	if verbose && len(result.Patterns) > 0 {
		fmt.Fprintln(w, "\nPATTERN MATCHES")
		for _, m := range result.Patterns {
			fmt.Fprintf(w, "   [%5.1f] %-18s %s\n", m.RiskScore, m.Pattern, m.Details)
		}
	}

	fmt.Fprintf(w, "\nCompleted in %v\n", duration.Round(time.Millisecond))
}
