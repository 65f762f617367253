package workflow

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCycle marks a graph whose edges form a cycle.
	ErrCycle = errors.New("workflow graph contains a cycle")
	// ErrDanglingEdge marks an edge referencing a node that does not exist.
	ErrDanglingEdge = errors.New("edge references unknown node")
)

// Validate checks the graph for structural errors: duplicate node ids,
// dangling edge references, and cycles. A graph failing validation must
// not execute any node.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}

	for _, e := range g.Edges {
		if !ids[e.From] {
			return fmt.Errorf("%w: %q", ErrDanglingEdge, e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("%w: %q", ErrDanglingEdge, e.To)
		}
	}

	if g.hasCycle() {
		return ErrCycle
	}

	return nil
}

// hasCycle runs Kahn's algorithm; any node left with a positive in-degree
// sits on a cycle.
func (g *Graph) hasCycle() bool {
	indegree := make(map[string]int, len(g.Nodes))
	out := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		indegree[e.To]++
		out[e.From] = append(out[e.From], e.To)
	}

	queue := make([]string, 0, len(g.Nodes))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range out[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return visited != len(g.Nodes)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// incoming returns the edges pointing into the given node, ordered by the
// declared order of their upstream nodes.
func (g *Graph) incoming(id string) []Edge {
	var edges []Edge
	for _, e := range g.Edges {
		if e.To == id {
			edges = append(edges, e)
		}
	}
	order := g.declaredOrder()
	sort.SliceStable(edges, func(i, j int) bool {
		return order[edges[i].From] < order[edges[j].From]
	})
	return edges
}

// dependencies maps each node to the ids of nodes with an edge into it.
func (g *Graph) dependencies() map[string][]string {
	deps := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		deps[e.To] = append(deps[e.To], e.From)
	}
	return deps
}

// dependents maps each node to the ids of nodes depending on it.
func (g *Graph) dependents() map[string][]string {
	out := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		out[e.From] = append(out[e.From], e.To)
	}
	return out
}

// declaredOrder maps node ids to their position in the graph declaration.
func (g *Graph) declaredOrder() map[string]int {
	order := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		order[n.ID] = i
	}
	return order
}

// transitiveDependents collects every node reachable from id along edges.
func (g *Graph) transitiveDependents(id string) []string {
	out := g.dependents()
	seen := map[string]bool{}
	var result []string

	queue := append([]string(nil), out[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		result = append(result, next)
		queue = append(queue, out[next]...)
	}

	return result
}
