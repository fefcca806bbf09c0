package domain

// GraphNode is an account in the transaction network.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// GraphEdge is one transfer from source to destination.
type GraphEdge struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Label string  `json:"label"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// GraphModel is the renderer-agnostic node/edge model of a batch.
// Nodes are kept in first-seen order.
type GraphModel struct {
	Nodes  []GraphNode   `json:"nodes"`
	Edges  []GraphEdge   `json:"edges"`
	Legend []LegendEntry `json:"legend"`
}

// Node returns the node with the given id.
func (g *GraphModel) Node(id string) (GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return GraphNode{}, false
}

// LegendEntry describes one severity color for renderers.
type LegendEntry struct {
	Color string `json:"color"`
	Label string `json:"label"`
}
