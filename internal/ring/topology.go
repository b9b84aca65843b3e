// Package ring builds the directed election ring as a graph and checks that
// it is a single cycle through every node.
//
// The election service owns ring integrity. This package only verifies what
// it is told: a failed check is reported as a *TopologyError next to the
// partial graph, so callers can still show what they have.
package ring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/rendermesh/internal/snapshot"
)

// TwoNodeCurvature bends both edges of a two-node ring so A→B and B→A stay
// visually distinct.
const TwoNodeCurvature = 0.3

// ErrInconsistentTopology is wrapped by every *TopologyError.
var ErrInconsistentTopology = errors.New("inconsistent ring topology")

// Node is one vertex of the ring graph, identified by ip.
type Node struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Role     snapshot.Role `json:"role"`
	Score    float64       `json:"resource_score"`
	IsSelf   bool          `json:"is_self"`
	IsLeader bool          `json:"is_leader"`
}

// Edge points from a node to its successor.
type Edge struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Curvature float64 `json:"curvature"`
}

// Graph is a ring as nodes plus directed edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// TopologyError lists every way a graph fails to be one simple cycle.
type TopologyError struct {
	Problems []string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInconsistentTopology, strings.Join(e.Problems, "; "))
}

func (e *TopologyError) Unwrap() error { return ErrInconsistentTopology }

// FromRing builds the graph from ring nodes whose successors were set by the
// election service. Edges to unknown successors are left out of the graph
// and reported.
//
// Parameters:
//   - nodes: ring topology from the latest election snapshot
//   - selfIP: local ip, highlighted in addition to nodes flagged is_me
//   - leaderIP: current leader, may be empty
//
// Returns:
//   - Graph: always populated, possibly partial
//   - error: *TopologyError when the ring is not one cycle over all nodes
func FromRing(nodes []snapshot.RingNode, selfIP, leaderIP string) (Graph, error) {
	g := Graph{Nodes: make([]Node, 0, len(nodes)), Edges: make([]Edge, 0, len(nodes))}
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.IP] = true
	}

	var problems []string
	for _, n := range nodes {
		g.Nodes = append(g.Nodes, Node{
			ID:       n.IP,
			Name:     n.Name,
			Role:     n.Role,
			Score:    n.ResourceScore,
			IsSelf:   n.IsSelf || (selfIP != "" && n.IP == selfIP),
			IsLeader: isLeader(n.IP, n.Role, leaderIP),
		})
		switch {
		case n.SuccessorIP == "":
			// no edge; reported as out-degree 0 by Validate
		case !known[n.SuccessorIP]:
			problems = append(problems, fmt.Sprintf("node %s points to unknown successor %s", n.IP, n.SuccessorIP))
		default:
			g.Edges = append(g.Edges, Edge{Source: n.IP, Target: n.SuccessorIP})
		}
	}
	bend(&g)

	if err := Validate(g); err != nil {
		var te *TopologyError
		if errors.As(err, &te) {
			problems = append(problems, te.Problems...)
		}
	}
	if len(problems) > 0 {
		return g, &TopologyError{Problems: problems}
	}
	return g, nil
}

// FromDevices builds a synthetic ring over devices in the given order,
// linking device i to device (i+1) mod N. It is used before an election has
// published a topology.
func FromDevices(devices []snapshot.Device, selfIP, leaderIP string) (Graph, error) {
	n := len(devices)
	g := Graph{Nodes: make([]Node, 0, n), Edges: make([]Edge, 0, n)}
	for i, d := range devices {
		r := snapshot.RoleWorker
		if leaderIP != "" && d.IP == leaderIP {
			r = snapshot.RoleLeader
		}
		g.Nodes = append(g.Nodes, Node{
			ID:       d.IP,
			Name:     d.Name,
			Role:     r,
			Score:    d.ResourceScore,
			IsSelf:   selfIP != "" && d.IP == selfIP,
			IsLeader: r == snapshot.RoleLeader,
		})
		g.Edges = append(g.Edges, Edge{Source: d.IP, Target: devices[(i+1)%n].IP})
	}
	bend(&g)
	return g, Validate(g)
}

func isLeader(ip string, r snapshot.Role, leaderIP string) bool {
	if leaderIP != "" {
		return ip == leaderIP
	}
	return r == snapshot.RoleLeader
}

func bend(g *Graph) {
	if len(g.Nodes) != 2 {
		return
	}
	for i := range g.Edges {
		g.Edges[i].Curvature = TwoNodeCurvature
	}
}

// Validate checks that g is exactly one simple cycle covering every node,
// with at most one leader and at most one self node. An empty graph is
// valid.
func Validate(g Graph) error {
	var problems []string
	n := len(g.Nodes)

	index := make(map[string]int, n)
	leaders, selves := 0, 0
	for i, node := range g.Nodes {
		if node.ID == "" {
			problems = append(problems, fmt.Sprintf("node %d has no id", i))
			continue
		}
		if _, dup := index[node.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node %s", node.ID))
			continue
		}
		index[node.ID] = i
		if node.Role == snapshot.RoleLeader {
			leaders++
		}
		if node.IsSelf {
			selves++
		}
	}
	if leaders > 1 {
		problems = append(problems, fmt.Sprintf("%d leaders", leaders))
	}
	if selves > 1 {
		problems = append(problems, fmt.Sprintf("%d self nodes", selves))
	}

	out := make(map[string]string, n)
	outDeg := make(map[string]int, n)
	inDeg := make(map[string]int, n)
	for _, e := range g.Edges {
		if _, ok := index[e.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge from unknown node %s", e.Source))
			continue
		}
		if _, ok := index[e.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge to unknown node %s", e.Target))
			continue
		}
		outDeg[e.Source]++
		inDeg[e.Target]++
		out[e.Source] = e.Target
	}
	for _, node := range g.Nodes {
		if node.ID == "" {
			continue
		}
		if d := outDeg[node.ID]; d != 1 {
			problems = append(problems, fmt.Sprintf("node %s has out-degree %d", node.ID, d))
		}
		if d := inDeg[node.ID]; d != 1 {
			problems = append(problems, fmt.Sprintf("node %s has in-degree %d", node.ID, d))
		}
	}

	if len(problems) == 0 && n > 0 {
		// degrees are all 1, so the edges form disjoint cycles; one walk
		// from the first node must visit everything
		start := g.Nodes[0].ID
		cur, steps := start, 0
		for {
			cur = out[cur]
			steps++
			if cur == start || steps > n {
				break
			}
		}
		if steps != n {
			problems = append(problems, fmt.Sprintf("cycle through %s covers %d of %d nodes", start, steps, n))
		}
	}

	if len(problems) > 0 {
		return &TopologyError{Problems: problems}
	}
	return nil
}
