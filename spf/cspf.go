package spf

import (
	"errors"
	"fmt"
)

// EdgeType is the business relationship an edge describes. Paths are valley free: once a path
// went over a peering or transit edge it may only continue downhill.
type EdgeType uint8

const (
	EPeer EdgeType = iota
	Customer
	Transit
	IPeer
)

func (t EdgeType) String() string {
	switch t {
	case EPeer:
		return "epeer"
	case Customer:
		return "customer"
	case Transit:
		return "transit"
	case IPeer:
		return "ipeer"
	}
	return fmt.Sprintf("edge-type-%d", uint8(t))
}

// CSPF splits every node into an uphill half a and a downhill half b, joined by a free a->b
// edge, so that plain shortest path search on the split graph only finds valley-free paths.
type CSPF struct {
	g     *Graph
	nodes []split
}

type split struct {
	a, b int
}

func NewCSPF() *CSPF {
	return &CSPF{g: NewGraph()}
}

func (c *CSPF) AddNode() int {
	s := split{a: c.g.AddNode(), b: c.g.AddNode()}
	if err := c.g.AddEdge(s.a, s.b, 0); err != nil {
		panic(err)
	}
	c.nodes = append(c.nodes, s)
	return len(c.nodes) - 1
}

func (c *CSPF) Len() int {
	return len(c.nodes)
}

func (c *CSPF) AddEdge(from, to int, t EdgeType, cost int64) error {
	if from < 0 || from >= len(c.nodes) || to < 0 || to >= len(c.nodes) {
		return fmt.Errorf("spf: edge %d->%d references an unknown node", from, to)
	}
	f, d := c.nodes[from], c.nodes[to]
	switch t {
	case EPeer:
		return c.g.AddEdge(f.a, d.b, cost)
	case Customer:
		return errors.Join(c.g.AddEdge(f.a, d.b, cost), c.g.AddEdge(f.b, d.b, cost))
	case Transit:
		return c.g.AddEdge(f.a, d.a, cost)
	case IPeer:
		return errors.Join(c.g.AddEdge(f.a, d.a, cost), c.g.AddEdge(f.b, d.b, cost))
	}
	return fmt.Errorf("spf: unknown edge type %d", t)
}

// Result holds the outcome of a CSPF run from one source.
type Result struct {
	Source int
	cost   []int64
	parent []int
}

// Run computes the cheapest valley-free path from src to every other node.
func (c *CSPF) Run(src int) *Result {
	res := &Result{
		Source: src,
		cost:   make([]int64, len(c.nodes)),
		parent: make([]int, len(c.nodes)),
	}
	owner := make([]int, c.g.Len())
	for i, s := range c.nodes {
		owner[s.a], owner[s.b] = i, i
	}
	for i, s := range c.nodes {
		res.cost[i], res.parent[i] = -1, -1
		if i == src {
			res.cost[i] = 0
			continue
		}
		// b is reachable from a at no cost, so its distance is the node's distance
		cost, path, err := c.g.Shortest(c.nodes[src].a, s.b)
		if err != nil {
			continue
		}
		res.cost[i] = cost
		for j := len(path) - 1; j >= 0; j-- {
			if owner[path[j]] != i {
				res.parent[i] = owner[path[j]]
				break
			}
		}
	}
	return res
}

// Cost returns the path cost to n, false when n is unreachable.
func (r *Result) Cost(n int) (int64, bool) {
	if n < 0 || n >= len(r.cost) || r.cost[n] < 0 {
		return 0, false
	}
	return r.cost[n], true
}

// Parent returns the node preceding n on its path, false for the source and unreachable nodes.
func (r *Result) Parent(n int) (int, bool) {
	if n < 0 || n >= len(r.parent) || r.parent[n] < 0 {
		return 0, false
	}
	return r.parent[n], true
}
