package graph

import (
	"testing"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

func TestBuild(t *testing.T) {
	t.Run("SingleHighValueTransfer", func(t *testing.T) {
		g := Build(domain.NormalizeBatch([]domain.RawTransaction{
			{"source": "A", "destination": "B", "amount": 150000.0},
		}))

		if len(g.Nodes) != 2 || len(g.Edges) != 1 {
			t.Fatalf("expected 2 nodes and 1 edge, got %d / %d", len(g.Nodes), len(g.Edges))
		}

		a, _ := g.Node("A")
		b, _ := g.Node("B")
		if a.Color != ColorRed || b.Color != ColorOrange {
			t.Errorf("unexpected node colors: A=%s B=%s", a.Color, b.Color)
		}
		if a.Label != "A" {
			t.Errorf("expected label A, got %s", a.Label)
		}

		e := g.Edges[0]
		if e.From != "A" || e.To != "B" {
			t.Errorf("unexpected edge direction: %s -> %s", e.From, e.To)
		}
		if e.Label != "₹150,000" {
			t.Errorf("unexpected edge label: %q", e.Label)
		}
		if e.Color != ColorRed || e.Width != 7.5 {
			t.Errorf("unexpected edge style: color=%s width=%v", e.Color, e.Width)
		}
	})

	t.Run("AmountBands", func(t *testing.T) {
		tests := []struct {
			amount        float64
			src, dst, edg string
		}{
			{100000, ColorAmber, ColorSkyBlue, ColorAmber},
			{50001, ColorAmber, ColorSkyBlue, ColorAmber},
			{50000, ColorSkyBlue, ColorLightGreen, ColorTeal},
			{100, ColorSkyBlue, ColorLightGreen, ColorTeal},
		}

		for _, tt := range tests {
			g := Build(domain.NormalizeBatch([]domain.RawTransaction{
				{"source": "S", "destination": "D", "amount": tt.amount},
			}))
			s, _ := g.Node("S")
			d, _ := g.Node("D")
			if s.Color != tt.src || d.Color != tt.dst || g.Edges[0].Color != tt.edg {
				t.Errorf("amount %v: got src=%s dst=%s edge=%s", tt.amount, s.Color, d.Color, g.Edges[0].Color)
			}
		}
	})

	t.Run("LastWriteWinsKeepsOrder", func(t *testing.T) {
		g := Build(domain.NormalizeBatch([]domain.RawTransaction{
			{"source": "A", "destination": "B", "amount": 200000.0},
			{"source": "C", "destination": "A", "amount": 10.0},
		}))

		if len(g.Nodes) != 3 {
			t.Fatalf("expected 3 nodes, got %d", len(g.Nodes))
		}
		if g.Nodes[0].ID != "A" || g.Nodes[1].ID != "B" || g.Nodes[2].ID != "C" {
			t.Errorf("unexpected node order: %+v", g.Nodes)
		}
		if g.Nodes[0].Color != ColorLightGreen {
			t.Errorf("expected A recolored by the last transfer, got %s", g.Nodes[0].Color)
		}
	})

	t.Run("EveryEdgeEndpointIsANode", func(t *testing.T) {
		g := Build(domain.NormalizeBatch([]domain.RawTransaction{
			{"source": "A", "destination": "B"},
			{"amount": 5.0},
			{"source": "B", "destination": "C", "amount": 75000.0},
		}))

		for _, e := range g.Edges {
			if _, ok := g.Node(e.From); !ok {
				t.Errorf("edge source %s has no node", e.From)
			}
			if _, ok := g.Node(e.To); !ok {
				t.Errorf("edge destination %s has no node", e.To)
			}
		}
		if _, ok := g.Node("ACC001"); !ok {
			t.Error("expected defaulted source ACC001")
		}
		if _, ok := g.Node("ACC101"); !ok {
			t.Error("expected defaulted destination ACC101")
		}
	})

	t.Run("HugeAmountLabel", func(t *testing.T) {
		g := Build(domain.NormalizeBatch([]domain.RawTransaction{
			{"source": "A", "destination": "B", "amount": 1e20},
		}))
		if got := g.Edges[0].Label; got != "₹100,000,000,000,000,000,000" {
			t.Errorf("unexpected edge label: %q", got)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		g := Build(domain.NormalizeBatch(nil))
		if len(g.Nodes) != 0 || len(g.Edges) != 0 {
			t.Errorf("expected empty graph, got %d / %d", len(g.Nodes), len(g.Edges))
		}
		if len(g.Legend) != 5 {
			t.Errorf("expected legend on empty graph, got %d entries", len(g.Legend))
		}
	})
}

func TestWidth(t *testing.T) {
	tests := []struct {
		amount float64
		want   float64
	}{
		{0, 2},
		{1, 0.00005},
		{20000, 1},
		{150000, 7.5},
		{160000, 8},
		{1000000, 8},
		{-40000, 2},
		{-1000000, 8},
	}

	for _, tt := range tests {
		if got := Width(tt.amount); got != tt.want {
			t.Errorf("Width(%v) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	g := Build(domain.NormalizeBatch([]domain.RawTransaction{
		{"source": "A", "destination": "B", "amount": 1.0},
		{"source": "A", "destination": "B", "amount": 2.0},
	}))

	nodes, edges := Summary(g)
	if nodes != 2 || edges != 2 {
		t.Errorf("expected 2 nodes and 2 edges, got %d / %d", nodes, edges)
	}

	if n, e := Summary(nil); n != 0 || e != 0 {
		t.Errorf("expected zero summary for nil graph, got %d / %d", n, e)
	}
}
