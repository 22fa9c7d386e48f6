package aps

import (
	"fmt"
	"sort"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// depNode is one policyId's dependency-graph entry: the create operations in
// this transaction plus whatever already-active policies it depends on.
type depNode struct {
	policyID string
	index    int // original position among ops, for the stable tie-break
	deps     []string
}

// topoSort orders nodes by dependency edges (a node after everything it
// depends on), breaking ties by original index. It returns fgerr.ErrConflict
// wrapping CircularDependency if nodes form a cycle.
func topoSort(nodes []depNode) ([]depNode, error) {
	byID := make(map[string]depNode, len(nodes))
	for _, n := range nodes {
		byID[n.policyID] = n
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := indegree[n.policyID]; !ok {
			indegree[n.policyID] = 0
		}
		for _, dep := range n.deps {
			if _, ok := byID[dep]; !ok {
				// A dependency outside this transaction's operation set (an
				// already-active policy) is satisfied by construction, not
				// an edge to order against.
				continue
			}
			indegree[n.policyID]++
			dependents[dep] = append(dependents[dep], n.policyID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return byID[ready[i]].index < byID[ready[j]].index })

	var ordered []depNode
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return byID[ready[i]].index < byID[ready[j]].index })
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(nodes) {
		return nil, fmt.Errorf("%w: circular dependency among policy operations", fgerr.ErrConflict)
	}
	return ordered, nil
}
