package pipeline

import (
	"fmt"

	"github.com/aviral-bhardwaj/laktory/errors"
)

// graph is the dependency structure induced by node references: an edge
// parent -> child for every source or transformer kwarg in child that
// names parent.
type graph struct {
	order    []*Node
	parents  map[string][]string
	children map[string][]string
}

// buildGraph validates node references and computes a deterministic
// topological order: Kahn's algorithm, always emitting the
// declaration-earliest ready node, so declaration order breaks ties.
func buildGraph(nodes []*Node) (*graph, error) {
	byName := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if _, ok := byName[n.Name]; ok {
			return nil, errors.AlreadyExists("node named " + n.Name)
		}
		byName[n.Name] = n
	}

	g := &graph{
		parents:  make(map[string][]string, len(nodes)),
		children: make(map[string][]string, len(nodes)),
	}
	seen := make(map[string]map[string]bool, len(nodes))
	addEdge := func(parent, child string) {
		if seen[parent] == nil {
			seen[parent] = make(map[string]bool)
		}
		if seen[parent][child] {
			return
		}
		seen[parent][child] = true
		g.parents[child] = append(g.parents[child], parent)
		g.children[parent] = append(g.children[parent], child)
	}
	for _, n := range nodes {
		for _, ref := range n.upstreamRefs() {
			if _, ok := byName[ref]; !ok {
				return nil, errors.InvalidInput("node "+n.Name, fmt.Sprintf("references unknown node %q", ref))
			}
			addEdge(ref, n.Name)
		}
	}

	indeg := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indeg[n.Name] = len(g.parents[n.Name])
	}
	emitted := make(map[string]bool, len(nodes))
	g.order = make([]*Node, 0, len(nodes))
	for len(g.order) < len(nodes) {
		next := (*Node)(nil)
		for _, n := range nodes {
			if !emitted[n.Name] && indeg[n.Name] == 0 {
				next = n
				break
			}
		}
		if next == nil {
			return nil, errors.CycleDetected(findCycle(nodes, g, emitted))
		}
		emitted[next.Name] = true
		g.order = append(g.order, next)
		for _, child := range g.children[next.Name] {
			indeg[child]--
		}
	}
	return g, nil
}

// findCycle extracts one offending cycle for the error message. Every
// unemitted node has an unemitted parent, so walking parents from the
// first unemitted node must revisit one; the revisited segment, read in
// edge direction and closed on its first node, is the cycle.
func findCycle(nodes []*Node, g *graph, emitted map[string]bool) []string {
	var start string
	for _, n := range nodes {
		if !emitted[n.Name] {
			start = n.Name
			break
		}
	}
	path := []string{start}
	index := map[string]int{start: 0}
	for {
		cur := path[len(path)-1]
		next := ""
		for _, p := range g.parents[cur] {
			if !emitted[p] {
				next = p
				break
			}
		}
		if at, ok := index[next]; ok {
			// path[at:] walked parent-wise; reverse it for flow order.
			cycle := []string{next}
			for i := len(path) - 1; i > at; i-- {
				cycle = append(cycle, path[i])
			}
			return append(cycle, next)
		}
		index[next] = len(path)
		path = append(path, next)
	}
}

// topological returns the computed execution order.
func (g *graph) topological() []*Node { return g.order }

// parentsOf lists a node's direct upstreams in reference order.
func (g *graph) parentsOf(name string) []string { return g.parents[name] }

// childrenOf lists a node's direct downstreams.
func (g *graph) childrenOf(name string) []string { return g.children[name] }
