package labyrinth

import "sort"

// Edge is a possible successor of a case. Dead edges sit behind an opaque
// predicate that never selects them.
type Edge struct {
	To   uint64
	Dead bool
}

// Node is one dispatch case
type Node struct {
	Label uint64
	Decoy bool
	Edges []Edge
}

// Graph is the successor graph of one flattened run, kept for inspection
// and reports
type Graph struct {
	Entry uint64
	Nodes map[uint64]*Node
	// Blocks is the number of basic blocks of the run before flattening
	Blocks int
}

func newGraph(entry uint64) *Graph {
	return &Graph{Entry: entry, Nodes: make(map[uint64]*Node)}
}

func (g *Graph) add(label uint64, decoy bool, edges []Edge) {
	g.Nodes[label] = &Node{Label: label, Decoy: decoy, Edges: edges}
}

// Decoys returns the number of decoy cases
func (g *Graph) Decoys() int {
	n := 0
	for _, node := range g.Nodes {
		if node.Decoy {
			n++
		}
	}
	return n
}

// Reachable returns the labels reachable from the entry along live edges,
// sorted
func Reachable(g *Graph) []uint64 {
	seen := map[uint64]bool{g.Entry: true}
	work := []uint64{g.Entry}
	for len(work) > 0 {
		l := work[len(work)-1]
		work = work[:len(work)-1]
		node := g.Nodes[l]
		if node == nil {
			continue
		}
		for _, e := range node.Edges {
			if e.Dead || seen[e.To] {
				continue
			}
			seen[e.To] = true
			work = append(work, e.To)
		}
	}

	out := make([]uint64, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
