package aps

import (
	"context"
	"fmt"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/internal/pvs"
)

// PolicyLookup is the subset of PVS's read surface pre-validation needs.
type PolicyLookup interface {
	GetLatest(ctx context.Context, policyID string) (pvs.PolicyVersion, error)
	GetVersion(ctx context.Context, policyID, version string) (pvs.PolicyVersion, error)
	ListAllActive(ctx context.Context) ([]pvs.PolicyVersion, error)
}

// validationResult is the outcome of validating one operation in isolation,
// used both by pre-validation (phase 1) and dry run (phase 3).
type validationResult struct {
	op  Operation
	err error
}

// preValidate runs phase 1: deterministic checks with no writes. It returns
// the operations in topological order, ready for dry run or execution.
func preValidate(ctx context.Context, lookup PolicyLookup, ops []Operation) ([]Operation, error) {
	seen := map[string]int{}
	for _, op := range ops {
		if op.Kind == OpCreate {
			seen[op.PolicyID]++
			if seen[op.PolicyID] > 1 {
				return nil, fmt.Errorf("%w: duplicate create for policy %q in one transaction", fgerr.ErrConflict, op.PolicyID)
			}
			if _, err := lookup.GetLatest(ctx, op.PolicyID); err == nil {
				return nil, fmt.Errorf("%w: policy %q already exists", fgerr.ErrConflict, op.PolicyID)
			} else if err != fgerr.ErrNotFound {
				return nil, err
			}
		}
	}

	for _, op := range ops {
		if op.Kind == OpCreate {
			continue
		}
		if _, err := lookup.GetLatest(ctx, op.PolicyID); err != nil {
			if err == fgerr.ErrNotFound {
				return nil, fmt.Errorf("%w: policy %q: %s", fgerr.ErrNotFound, op.PolicyID, op.Kind)
			}
			return nil, err
		}
	}

	active, err := lookup.ListAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active policies: %w", err)
	}
	activeIDs := map[string]bool{}
	for _, v := range active {
		activeIDs[v.PolicyID] = true
	}

	nodes := make([]depNode, 0, len(ops))
	for i, op := range ops {
		var deps []string
		if op.Kind == OpCreate {
			deps = op.Content.Dependencies
		}
		nodes = append(nodes, depNode{policyID: op.PolicyID, index: i, deps: deps})
	}

	ordered, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Operation, len(ops))
	for _, op := range ops {
		byID[op.PolicyID] = op
	}
	out := make([]Operation, 0, len(ordered))
	for _, n := range ordered {
		out = append(out, byID[n.policyID])
	}
	return out, nil
}

// dryRun executes every validation phase 3 calls for (existence/DAG already
// covered by preValidate) without any side effect, reporting per-operation
// pass/fail. Since the current schema's only per-operation precondition
// beyond pre-validation is target-version existence for restore, dryRun's
// additional check is limited to that.
func dryRun(ctx context.Context, lookup PolicyLookup, ops []Operation) []validationResult {
	results := make([]validationResult, 0, len(ops))
	for _, op := range ops {
		var err error
		if op.Kind == OpRestore {
			if _, getErr := lookup.GetVersion(ctx, op.PolicyID, op.TargetVersion); getErr != nil {
				err = getErr
			}
		}
		results = append(results, validationResult{op: op, err: err})
	}
	return results
}
