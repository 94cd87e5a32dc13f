package compensable

import (
	"fmt"

	"github.com/fortressi/compensable/dag"
	"gonum.org/v1/gonum/graph/encoding"
)

// ScopeGraph renders the scope relations of a snapshot: a solid edge from
// each parent to its nested units and a dashed edge from each origin to the
// secondary roots detached from it.
func ScopeGraph(snap Snapshot) (*dag.Graph, error) {
	g := dag.New("scope")
	for _, us := range snap.Units {
		label := us.State.String()
		if us.Kind != "" {
			label = fmt.Sprintf("%s (%s)", us.Kind, us.State)
		}
		g.AddNode(us.ID.String(), label)
	}

	for _, us := range snap.Units {
		if us.Parent != nil {
			if err := g.AddEdge(us.Parent.String(), us.ID.String()); err != nil {
				return nil, fmt.Errorf("scope edge for unit %s: %w", us.ID, err)
			}
		}
		if us.Origin != nil {
			if _, ok := g.NodeByKey(us.Origin.String()); !ok {
				// The origin already finished; keep the relation visible.
				g.AddNode(us.Origin.String(), "(retired)")
			}
			err := g.AddEdge(us.Origin.String(), us.ID.String(), encoding.Attribute{Key: "style", Value: "dashed"})
			if err != nil {
				return nil, fmt.Errorf("secondary root edge for unit %s: %w", us.ID, err)
			}
		}
	}
	return g, nil
}

// ScopeGraph renders the coordinator's live units. See ScopeGraph.
func (c *Coordinator) ScopeGraph() (*dag.Graph, error) {
	return ScopeGraph(c.Snapshot())
}
