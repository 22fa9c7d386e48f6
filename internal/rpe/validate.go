package rpe

import (
	"context"
	"fmt"
	"time"

	"github.com/altairalabs/finguard/internal/pvs"
)

// PVSLookup is the PVS read surface validation needs.
type PVSLookup interface {
	GetVersion(ctx context.Context, policyID, version string) (pvs.PolicyVersion, error)
	ListVersions(ctx context.Context, policyID string) ([]pvs.PolicyVersion, error)
	ListAllActive(ctx context.Context) ([]pvs.PolicyVersion, error)
}

// runChecks executes every validation check against plan, returning the full
// result set (always, for visibility) and an error naming the first failure
// if any check failed.
func runChecks(ctx context.Context, lookup PVSLookup, plan Plan, graceWindow time.Duration, now time.Time) ([]CheckResult, error) {
	checks := []CheckResult{
		checkTargetExists(ctx, lookup, plan),
		checkConcurrentModification(ctx, lookup, plan, graceWindow, now),
		checkDependencySafety(ctx, lookup, plan),
		checkTimeWindow(plan, now),
		checkDataLossRisk(plan),
	}

	for _, c := range checks {
		if !c.Passed {
			return checks, fmt.Errorf("validation check %q failed: %s", c.Name, c.Reason)
		}
	}
	return checks, nil
}

func checkTargetExists(ctx context.Context, lookup PVSLookup, plan Plan) CheckResult {
	for _, t := range plan.Targets {
		if _, err := lookup.GetVersion(ctx, t.PolicyID, t.Value); err != nil {
			return CheckResult{Name: "target_exists", Passed: false,
				Reason: fmt.Sprintf("version %s of policy %q is not a known PolicyVersion", t.Value, t.PolicyID)}
		}
	}
	return CheckResult{Name: "target_exists", Passed: true}
}

func checkConcurrentModification(ctx context.Context, lookup PVSLookup, plan Plan, graceWindow time.Duration, now time.Time) CheckResult {
	threshold := plan.CreatedAt.Add(-graceWindow)
	for _, policyID := range plan.Scope.Policies {
		versions, err := lookup.ListVersions(ctx, policyID)
		if err != nil {
			continue
		}
		target, _ := plan.targetFor(policyID)
		for _, v := range versions {
			if v.Version == target.Value {
				continue
			}
			if v.CreatedAt.After(threshold) {
				return CheckResult{Name: "concurrent_modification", Passed: false,
					Reason: fmt.Sprintf("policy %q changed to version %s at %s, after the plan's grace window", policyID, v.Version, v.CreatedAt)}
			}
		}
	}
	return CheckResult{Name: "concurrent_modification", Passed: true}
}

// checkDependencySafety fails if a policy outside the plan's scope depends
// on a scope policyId for which the plan carries no rollback target — such
// a policy would be left depending on a policyId this plan could archive
// without a replacement lined up.
func checkDependencySafety(ctx context.Context, lookup PVSLookup, plan Plan) CheckResult {
	inScope := make(map[string]bool, len(plan.Scope.Policies))
	for _, id := range plan.Scope.Policies {
		inScope[id] = true
	}

	active, err := lookup.ListAllActive(ctx)
	if err != nil {
		return CheckResult{Name: "dependency_safety", Passed: false, Reason: err.Error()}
	}

	for _, v := range active {
		if inScope[v.PolicyID] {
			continue
		}
		for _, dep := range v.Content.Dependencies {
			if !inScope[dep] {
				continue
			}
			if _, ok := plan.targetFor(dep); !ok {
				return CheckResult{Name: "dependency_safety", Passed: false,
					Reason: fmt.Sprintf("active policy %q depends on %q, which this plan has no rollback target for", v.PolicyID, dep)}
			}
		}
	}
	return CheckResult{Name: "dependency_safety", Passed: true}
}

func checkTimeWindow(plan Plan, now time.Time) CheckResult {
	w := plan.Scope.TimeWindow
	if w == nil {
		return CheckResult{Name: "time_window", Passed: true}
	}

	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return CheckResult{Name: "time_window", Passed: false, Reason: fmt.Sprintf("unknown timezone %q", w.Timezone)}
	}
	local := now.In(loc)

	start, err := time.ParseInLocation("15:04", w.Start, loc)
	if err != nil {
		return CheckResult{Name: "time_window", Passed: false, Reason: fmt.Sprintf("invalid window start %q", w.Start)}
	}
	end, err := time.ParseInLocation("15:04", w.End, loc)
	if err != nil {
		return CheckResult{Name: "time_window", Passed: false, Reason: fmt.Sprintf("invalid window end %q", w.End)}
	}

	nowMinutes := local.Hour()*60 + local.Minute()
	startMinutes := start.Hour()*60 + start.Minute()
	endMinutes := end.Hour()*60 + end.Minute()

	inWindow := startMinutes <= nowMinutes && nowMinutes <= endMinutes
	if !inWindow {
		return CheckResult{Name: "time_window", Passed: false,
			Reason: fmt.Sprintf("current time %s is outside window %s-%s %s", local.Format("15:04"), w.Start, w.End, w.Timezone)}
	}
	return CheckResult{Name: "time_window", Passed: true}
}

func checkDataLossRisk(plan Plan) CheckResult {
	switch plan.DataLoss.Risk {
	case DataLossNone, DataLossMinimal, "":
		return CheckResult{Name: "data_loss_risk", Passed: true}
	default:
		if plan.DataLoss.Approved {
			return CheckResult{Name: "data_loss_risk", Passed: true}
		}
		return CheckResult{Name: "data_loss_risk", Passed: false,
			Reason: fmt.Sprintf("data loss risk %q requires explicit approval", plan.DataLoss.Risk)}
	}
}
