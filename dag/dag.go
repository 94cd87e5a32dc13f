// Package dag holds a small attributed directed graph used to render the
// scope relations between compensable units.
package dag

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph is a directed graph whose nodes are addressed by string keys and
// whose nodes and edges carry DOT attributes.
type Graph struct {
	*simple.DirectedGraph
	name string
	keys map[string]int64
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		DirectedGraph: simple.NewDirectedGraph(),
		name:          name,
		keys:          make(map[string]int64),
	}
}

// Node is a graph node with a key and DOT attributes.
type Node struct {
	graph.Node
	Key   string
	attrs encoding.Attributes
}

// Attributes implements encoding.Attributer.
func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

// SetAttribute implements encoding.AttributeSetter.
func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

type edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

// AddNode adds a node for key with the given label. Adding an existing key
// returns the existing node and updates its label.
func (g *Graph) AddNode(key, label string) *Node {
	if id, ok := g.keys[key]; ok {
		n := g.Node(id).(*Node)
		_ = n.SetAttribute(encoding.Attribute{Key: "label", Value: label})
		return n
	}
	n := &Node{Node: g.DirectedGraph.NewNode(), Key: key}
	_ = n.SetAttribute(encoding.Attribute{Key: "label", Value: label})
	g.DirectedGraph.AddNode(n)
	g.keys[key] = n.ID()
	return n
}

// NodeByKey returns the node added for key.
func (g *Graph) NodeByKey(key string) (*Node, bool) {
	id, ok := g.keys[key]
	if !ok {
		return nil, false
	}
	return g.Node(id).(*Node), true
}

// AddEdge adds a directed edge between two existing keys with optional DOT
// attributes (for example style=dashed).
func (g *Graph) AddEdge(from, to string, attrs ...encoding.Attribute) error {
	f, ok := g.NodeByKey(from)
	if !ok {
		return fmt.Errorf("node %q does not exist", from)
	}
	t, ok := g.NodeByKey(to)
	if !ok {
		return fmt.Errorf("node %q does not exist", to)
	}
	if f.ID() == t.ID() {
		return fmt.Errorf("self edge on %q", from)
	}
	e := &edge{Edge: simple.Edge{F: f, T: t}}
	for _, a := range attrs {
		if err := e.attrs.SetAttribute(a); err != nil {
			return err
		}
	}
	g.SetEdge(e)
	return nil
}

// Roots returns the keys of nodes without incoming edges, in insertion order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, n := range g.ordered() {
		if g.To(n.ID()).Len() == 0 {
			roots = append(roots, n.Key)
		}
	}
	return roots
}

// TopoOrder returns the keys in a dependency-respecting order, parents first.
func (g *Graph) TopoOrder() ([]string, error) {
	sorted, err := topo.SortStabilized(g.DirectedGraph, func(nodes []graph.Node) {
		sortByID(nodes)
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}
	keys := make([]string, len(sorted))
	for i, n := range sorted {
		keys[i] = n.(*Node).Key
	}
	return keys, nil
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g.DirectedGraph, g.name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %v", err)
	}
	return string(data), nil
}

func (g *Graph) ordered() []*Node {
	nodes := graph.NodesOf(g.Nodes())
	sortByID(nodes)
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.(*Node)
	}
	return out
}

func sortByID(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID() < nodes[j].ID()
	})
}
