// Package catalog implements catalog-entity semantics shared by the
// builder and the executors: dependency-edge extraction and cycle
// detection over the reads_from/writes_to graph (§3 I3, §9).
package catalog

import (
	"fmt"

	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
)

// Graph is an adjacency view of live-spec dependency edges, keyed by
// case-folded name.
type Graph struct {
	edges map[string][]models.Name
	names map[string]models.Name
}

// NewGraph builds a Graph from a set of live specs, using each spec's
// ReadsFrom as its outbound edges (a reads from b ⇒ edge a→b), which is
// the direction the DFS cycle check walks (a derivation that reads its
// own output transitively is cyclic).
func NewGraph(specs []models.LiveSpec) *Graph {
	var g = &Graph{edges: make(map[string][]models.Name), names: make(map[string]models.Name)}
	for _, s := range specs {
		g.names[s.Name.Fold()] = s.Name
		g.edges[s.Name.Fold()] = append(g.edges[s.Name.Fold()], s.ReadsFrom...)
	}
	return g
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// DetectCycles runs a DFS over the graph with color marking, returning
// one BuildError per back-edge found (an edge into a gray node), per
// §9's "cyclic graphs are forbidden at build time" design note.
func (g *Graph) DetectCycles() []*errs.BuildError {
	var colors = make(map[string]color, len(g.names))
	var stack []models.Name
	var out []*errs.BuildError

	var visit func(name string)
	visit = func(name string) {
		colors[name] = gray
		stack = append(stack, g.names[name])
		for _, next := range g.edges[name] {
			var nf = next.Fold()
			switch colors[nf] {
			case white:
				if _, known := g.names[nf]; known {
					visit(nf)
				}
			case gray:
				out = append(out, errs.NewBuildError(
					fmt.Sprintf("collection://%s", g.names[name]),
					"dependency cycle detected: %s -> %s", g.names[name], next,
				))
			case black:
				// Already fully explored via another path; no cycle through here.
			}
		}
		stack = stack[:len(stack)-1]
		colors[name] = black
	}

	for name := range g.names {
		if colors[name] == white {
			visit(name)
		}
	}
	return out
}

// Dependents returns the live specs in all that read from changed (the
// reverse of ReadsFrom). Nothing in the engine calls it: the publication
// pipeline lists dependents through store.LiveSpecStore.ListDependents.
func Dependents(all []models.LiveSpec, changed models.Name) []models.Name {
	var out []models.Name
	var folded = changed.Fold()
	for _, s := range all {
		for _, r := range s.ReadsFrom {
			if r.Fold() == folded {
				out = append(out, s.Name)
				break
			}
		}
	}
	return out
}
