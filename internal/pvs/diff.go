package pvs

// Complexity classifies how disruptive a diff between two versions is.
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityComplex  Complexity = "COMPLEX"
	ComplexityBreaking Complexity = "BREAKING"
)

// Diff is the structured comparison between two PolicyVersions' content.
type Diff struct {
	PolicyID       string
	FromVersion    string
	ToVersion      string
	AddedRules     []string
	ModifiedRules  []string
	RemovedRules   []string
	EnforcementChanged bool
	Complexity     Complexity
}

// computeDiff compares from and to, producing an added/modified/removed
// rule-path diff and a complexity classification.
func computeDiff(from, to PolicyVersion) Diff {
	d := Diff{
		PolicyID:    to.PolicyID,
		FromVersion: from.Version,
		ToVersion:   to.Version,
	}

	for name, expr := range to.Content.Rules {
		prev, existed := from.Content.Rules[name]
		switch {
		case !existed:
			d.AddedRules = append(d.AddedRules, name)
		case prev != expr:
			d.ModifiedRules = append(d.ModifiedRules, name)
		}
	}
	for name := range from.Content.Rules {
		if _, stillExists := to.Content.Rules[name]; !stillExists {
			d.RemovedRules = append(d.RemovedRules, name)
		}
	}

	sortStrings(d.AddedRules)
	sortStrings(d.ModifiedRules)
	sortStrings(d.RemovedRules)

	d.EnforcementChanged = from.Content.Config.Enforcement != to.Content.Config.Enforcement
	d.Complexity = classifyComplexity(d)
	return d
}

// classifyComplexity infers SIMPLE/COMPLEX/BREAKING from whether
// enforcement changed and whether any rule was removed.
func classifyComplexity(d Diff) Complexity {
	switch {
	case d.EnforcementChanged || len(d.RemovedRules) > 0:
		return ComplexityBreaking
	case len(d.ModifiedRules) > 0:
		return ComplexityComplex
	default:
		return ComplexitySimple
	}
}
