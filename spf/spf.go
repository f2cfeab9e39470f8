// Package spf computes shortest paths over the advertised peer topology.
package spf

import (
	"errors"
	"fmt"

	"github.com/RyanCarrier/dijkstra"
)

var ErrNoPath = errors.New("spf: no path")

// Graph is a directed graph over dense node indices with non-negative edge costs.
type Graph struct {
	g *dijkstra.Graph
	n int
}

func NewGraph() *Graph {
	return &Graph{g: dijkstra.NewGraph()}
}

// AddNode adds a node and returns its index.
func (g *Graph) AddNode() int {
	idx := g.n
	g.g.AddVertex(idx)
	g.n++
	return idx
}

func (g *Graph) Len() int {
	return g.n
}

func (g *Graph) AddEdge(from, to int, cost int64) error {
	if from < 0 || from >= g.n || to < 0 || to >= g.n {
		return fmt.Errorf("spf: edge %d->%d references an unknown node", from, to)
	}
	if cost < 0 {
		return fmt.Errorf("spf: negative cost %d on edge %d->%d", cost, from, to)
	}
	return g.g.AddArc(from, to, cost)
}

// Shortest returns the cost of the cheapest path from src to dst and the nodes along it,
// src and dst included.
func (g *Graph) Shortest(src, dst int) (int64, []int, error) {
	if src == dst {
		return 0, []int{src}, nil
	}
	best, err := g.g.Shortest(src, dst)
	if err != nil {
		return 0, nil, fmt.Errorf("%w from %d to %d: %v", ErrNoPath, src, dst, err)
	}
	return best.Distance, best.Path, nil
}
