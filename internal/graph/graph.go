// Package graph provides pure structural checks over a project's
// dependency edges. The HTTP boundary and the merge engine both call
// into it to keep every project graph a DAG; it never touches
// persistence itself.
package graph

// Edge is a directed dependency between two task IDs.
type Edge struct {
	From int64
	To   int64
}

// IsSelfLoop reports whether the edge points from a task to itself.
func IsSelfLoop(e Edge) bool {
	return e.From == e.To
}

// WouldCreateCycle reports whether adding candidate to existing would
// close a directed cycle. It walks depth-first from the candidate's
// destination over the existing edges; if the walk reaches the
// candidate's source, the new edge would complete a cycle.
//
// A self-loop candidate always reports true.
func WouldCreateCycle(existing []Edge, candidate Edge) bool {
	if IsSelfLoop(candidate) {
		return true
	}

	adj := make(map[int64][]int64, len(existing))
	for _, e := range existing {
		adj[e.From] = append(adj[e.From], e.To)
	}

	visited := make(map[int64]bool)
	stack := []int64{candidate.To}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == candidate.From {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, adj[n]...)
	}
	return false
}
