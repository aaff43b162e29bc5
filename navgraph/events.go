package navgraph

import "strings"

// SearchNodeEvent is an advisory bitmask returned by vertex queries alongside
// whatever partial result was found.
type SearchNodeEvent uint32

const (
	// SearchNodeNoNodeFound means the query returned no vertex.
	SearchNodeNoNodeFound SearchNodeEvent = 1 << iota
	// SearchNodeTooMuchNodeCollected means more vertices matched than the output could hold.
	SearchNodeTooMuchNodeCollected
	// SearchNodeInvalidVertexID means an indexed graph cell no longer resolved and was skipped.
	SearchNodeInvalidVertexID
	// SearchNodeBlockedByCanGo means the CanGo oracle rejected a candidate.
	SearchNodeBlockedByCanGo
	// SearchNodeBlockedByLpfConstraint means a candidate's terrain was not allowed.
	SearchNodeBlockedByLpfConstraint
	// SearchNodeBlockedByConstraint means a cost function rejected a candidate.
	SearchNodeBlockedByConstraint
)

// Has reports whether every bit of flag is set.
func (e SearchNodeEvent) Has(flag SearchNodeEvent) bool {
	return e&flag == flag
}

func (e SearchNodeEvent) String() string {
	if e == 0 {
		return "none"
	}
	names := []struct {
		f SearchNodeEvent
		n string
	}{
		{SearchNodeNoNodeFound, "no_node_found"},
		{SearchNodeTooMuchNodeCollected, "too_much_node_collected"},
		{SearchNodeInvalidVertexID, "invalid_vertex_id"},
		{SearchNodeBlockedByCanGo, "blocked_by_cango"},
		{SearchNodeBlockedByLpfConstraint, "blocked_by_lpf_constraint"},
		{SearchNodeBlockedByConstraint, "blocked_by_constraint"},
	}
	var parts []string
	for _, n := range names {
		if e.Has(n.f) {
			parts = append(parts, n.n)
		}
	}
	return strings.Join(parts, "|")
}
