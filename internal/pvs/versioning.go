package pvs

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// nextSemver computes the next version string for a change against latest,
// per the bump rule: CREATION -> 1.0.0, UPDATE -> minor bump, BREAKING ->
// major bump.
func nextSemver(latest string, change ChangeType) (string, error) {
	if change == ChangeCreation || latest == "" {
		return "1.0.0", nil
	}

	major, minor, patch, err := parseSemver(latest)
	if err != nil {
		return "", err
	}

	switch change {
	case ChangeBreaking:
		return fmt.Sprintf("%d.0.0", major+1), nil
	case ChangeUpdate:
		return fmt.Sprintf("%d.%d.0", major, minor+1), nil
	default:
		return fmt.Sprintf("%d.%d.%d", major, minor, patch), nil
	}
}

func parseSemver(v string) (major, minor, patch int, err error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("pvs: malformed version %q", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("pvs: malformed version %q: %w", v, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("pvs: malformed version %q: %w", v, err)
	}
	patch, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("pvs: malformed version %q: %w", v, err)
	}
	return major, minor, patch, nil
}

// canonicalContentHash hashes content deterministically: sorted rule names,
// sorted data keys, so structurally-identical content always hashes
// identically regardless of map iteration order.
func canonicalContentHash(c Content) string {
	var b strings.Builder

	ruleNames := make([]string, 0, len(c.Rules))
	for name := range c.Rules {
		ruleNames = append(ruleNames, name)
	}
	sortStrings(ruleNames)
	for _, name := range ruleNames {
		fmt.Fprintf(&b, "rule:%s=%s;", name, c.Rules[name])
	}

	dataKeys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		dataKeys = append(dataKeys, k)
	}
	sortStrings(dataKeys)
	for _, k := range dataKeys {
		fmt.Fprintf(&b, "data:%s=%v;", k, c.Data[k])
	}

	fmt.Fprintf(&b, "enforcement=%s;scope=%s;priority=%d;", c.Config.Enforcement, c.Config.Scope, c.Config.Priority)
	fmt.Fprintf(&b, "jurisdictions=%v;frameworks=%v;", sortedCopy(c.Config.Jurisdictions), sortedCopy(c.Config.ComplianceFrameworks))
	fmt.Fprintf(&b, "deps=%v;constraints=%v;", sortedCopy(c.Dependencies), sortedCopy(c.Constraints))

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sortStrings(out)
	return out
}
