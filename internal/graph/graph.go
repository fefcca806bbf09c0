// Package graph builds the node/edge model of money flow in a batch.
package graph

import (
	"math"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

// Amount bands that drive node and edge styling.
const (
	HighAmount   = 100000.0
	MediumAmount = 50000.0
)

// Edge width scaling.
const (
	widthDivisor = 20000.0
	maxWidth     = 8.0
	zeroWidth    = 2.0
)

// Palette.
const (
	ColorRed        = "#FF4444"
	ColorOrange     = "#FF8800"
	ColorAmber      = "#FFAA00"
	ColorSkyBlue    = "#87CEEB"
	ColorLightGreen = "#90EE90"
	ColorTeal       = "#00d4aa"
)

// style is the coloring of one transfer.
type style struct {
	source, destination, edge string
}

func styleFor(amount float64) style {
	switch {
	case amount > HighAmount:
		return style{source: ColorRed, destination: ColorOrange, edge: ColorRed}
	case amount > MediumAmount:
		return style{source: ColorAmber, destination: ColorSkyBlue, edge: ColorAmber}
	default:
		return style{source: ColorSkyBlue, destination: ColorLightGreen, edge: ColorTeal}
	}
}

// Width returns the rendering width of an edge carrying amount.
// Negative amounts (reversals) are sized by magnitude so the width is never negative.
// Only an exact zero falls back to the minimum visible width.
func Width(amount float64) float64 {
	w := math.Min(maxWidth, math.Abs(amount)/widthDivisor)
	if w == 0 {
		return zeroWidth
	}
	return w
}

// Legend returns the color captions renderers display next to the graph.
func Legend() []domain.LegendEntry {
	return []domain.LegendEntry{
		{Color: ColorRed, Label: "High Risk (>" + domain.CurrencySymbol + "1L)"},
		{Color: ColorOrange, Label: "Medium-High (>" + domain.CurrencySymbol + "50K)"},
		{Color: ColorAmber, Label: "Medium Risk"},
		{Color: ColorSkyBlue, Label: "Low-Medium"},
		{Color: ColorLightGreen, Label: "Low Risk"},
	}
}

// Build returns the graph model of a batch.
// Each transfer recolors both endpoints, so a node keeps the color of the
// last transfer that touched it while keeping its first-seen position.
func Build(batch *domain.Batch) *domain.GraphModel {
	g := &domain.GraphModel{
		Nodes:  []domain.GraphNode{},
		Edges:  make([]domain.GraphEdge, 0, batch.Len()),
		Legend: Legend(),
	}
	if batch.Len() == 0 {
		return g
	}

	pos := make(map[string]int)
	put := func(id, color string) {
		if i, ok := pos[id]; ok {
			g.Nodes[i].Color = color
			return
		}
		pos[id] = len(g.Nodes)
		g.Nodes = append(g.Nodes, domain.GraphNode{ID: id, Label: id, Color: color})
	}

	for _, tx := range batch.Transactions {
		s := styleFor(tx.Amount)
		put(tx.Source, s.source)
		put(tx.Destination, s.destination)

		g.Edges = append(g.Edges, domain.GraphEdge{
			From:  tx.Source,
			To:    tx.Destination,
			Label: domain.FormatAmount(tx.Amount),
			Color: s.edge,
			Width: Width(tx.Amount),
		})
	}

	return g
}

// Summary returns the node and edge counts of a model.
func Summary(g *domain.GraphModel) (nodes, edges int) {
	if g == nil {
		return 0, 0
	}
	return len(g.Nodes), len(g.Edges)
}
