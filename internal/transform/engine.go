package transform

import (
	"crypto/sha256"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/altairalabs/finguard/pkg/metrics"
)

// consentRelease maps each consent level to the rule kind applied to a field
// that carries no higher-precedence override, in rule-table order from most
// to least permissive.
var consentRelease = map[ConsentLevel]RuleKind{
	ConsentFullAutomation:    RulePass,
	ConsentPartialAutomation: RuleMask,
	ConsentManualOnly:        RuleTokenize,
	ConsentNone:              RuleDrop,
}

// Engine applies a RuleTable to payloads under caller Context, caching
// per-rule decisions so that repeated calls with the same (path, context)
// pair are byte-identical — the purity requirement every caller of
// Transform relies on.
type Engine struct {
	table   RuleTable
	cache   *lru.Cache[string, resolvedRule]
	metrics *metrics.DTEMetrics
}

type resolvedRule struct {
	kind   RuleKind
	reason string
}

// NewEngine builds an Engine over table, caching up to cacheSize resolved
// decisions.
func NewEngine(table RuleTable, cacheSize int, m *metrics.DTEMetrics) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, resolvedRule](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("transform: build rule cache: %w", err)
	}
	return &Engine{table: table, cache: cache, metrics: m}, nil
}

// Transform applies the engine's rule table to fields under ctx, returning
// the transformed payload, a summary, and a per-field decision trace.
func (e *Engine) Transform(ctx Context, fields []Field) Output {
	out := Output{Payload: map[string]any{}}

	for _, f := range fields {
		resolved := e.resolve(ctx, f)
		e.apply(&out, f, resolved)
	}

	sort.Slice(out.Trace, func(i, j int) bool { return out.Trace[i].Path < out.Trace[j].Path })
	return out
}

func (e *Engine) resolve(ctx Context, f Field) resolvedRule {
	key := e.cacheKey(ctx, f)
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	r := e.resolveUncached(ctx, f)
	e.cache.Add(key, r)
	return r
}

// resolveUncached implements the precedence order: sovereignty override >
// rule-table entry (itself compliance-gated via RequiredCompliance/
// FallbackKind) > consent-level mapping.
func (e *Engine) resolveUncached(ctx Context, f Field) resolvedRule {
	if r, ok := e.sovereigntyOverride(ctx, f); ok {
		return r
	}

	if rule, ok := e.table.find(f.Path); ok {
		if rule.RequiredCompliance == "" || hasFramework(ctx, rule.RequiredCompliance) {
			return resolvedRule{kind: rule.Kind, reason: "rule-table default"}
		}
		if rule.FallbackKind != "" {
			return resolvedRule{kind: rule.FallbackKind, reason: fmt.Sprintf("fallback: missing compliance framework %s", rule.RequiredCompliance)}
		}
	}

	kind, ok := consentRelease[ctx.ConsentLevel]
	if !ok {
		kind = RuleDrop
	}
	return resolvedRule{kind: kind, reason: fmt.Sprintf("consent level %s", ctx.ConsentLevel)}
}

// sovereigntyOverride implements CARE-aligned handling of indigenous_cultural
// and sacred tagged fields. An indigenous_cultural field is released in full
// only under the traditional owner + elder approval + community match
// combination and dropped otherwise. A sacred field has no full-release path
// and is always dropped, even for a caller holding that combination.
func (e *Engine) sovereigntyOverride(ctx Context, f Field) (resolvedRule, bool) {
	hasTag := func(t Tag) bool {
		for _, tag := range f.Tags {
			if tag == t {
				return true
			}
		}
		return false
	}

	if !hasTag(TagIndigenousCultural) && !hasTag(TagSacred) {
		return resolvedRule{}, false
	}

	fullRelease := ctx.SovereigntyLevel == SovereigntyTraditionalOwner &&
		ctx.HasRole(RoleTraditionalOwner) &&
		ctx.ElderApproval &&
		f.CommunityID != "" &&
		f.CommunityID == ctx.CommunityID

	if hasTag(TagSacred) {
		if fullRelease {
			return resolvedRule{kind: RuleDrop, reason: "sacred field has no full-release path"}, true
		}
		return resolvedRule{kind: RuleDrop, reason: "sacred field requires traditional owner release, none described"}, true
	}

	// indigenous_cultural
	if fullRelease {
		if e.metrics != nil {
			e.metrics.SovereigntyOverrides.Inc()
		}
		return resolvedRule{kind: RulePass, reason: "traditional owner release: role, elder approval, and community match"}, true
	}
	if e.metrics != nil {
		e.metrics.SovereigntyOverrides.Inc()
	}
	return resolvedRule{kind: RuleDrop, reason: "indigenous_cultural field without traditional owner release"}, true
}

func hasFramework(ctx Context, framework string) bool {
	for _, f := range ctx.ComplianceFrameworks {
		if f == framework {
			return true
		}
	}
	return false
}

func (e *Engine) apply(out *Output, f Field, r resolvedRule) {
	out.Trace = append(out.Trace, TraceEntry{Path: f.Path, Kind: r.kind, Reason: r.reason})

	if e.metrics != nil {
		e.metrics.FieldsProcessed.WithLabelValues(string(r.kind)).Inc()
	}

	switch r.kind {
	case RulePass:
		out.Payload[f.Path] = f.Value
		out.Summary.FieldsTransformed++
	case RuleMask:
		out.Payload[f.Path] = mask(stringify(f.Value))
		out.Summary.FieldsTransformed++
	case RuleRedact:
		tag := Tag("field")
		if len(f.Tags) > 0 {
			tag = f.Tags[0]
		}
		out.Payload[f.Path] = redact(tag)
		out.Summary.FieldsTransformed++
	case RuleTokenize:
		rule, _ := e.table.find(f.Path)
		keyID := rule.TokenizeKeyID
		if keyID == "" {
			keyID = "default"
		}
		out.Payload[f.Path] = tokenize(keyID, stringify(f.Value))
		out.Summary.FieldsTokenized++
		out.Summary.FieldsTransformed++
	case RuleDrop:
		out.Summary.FieldsDropped++
	}
}

// cacheKey derives a deterministic per-(path, context) cache key, hashing
// the context fields that affect resolution rather than the whole struct so
// unrelated Context fields (e.g. Location) don't needlessly fragment the
// cache.
func (e *Engine) cacheKey(ctx Context, f Field) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|%s|%v|%s|%v",
		f.Path, ctx.ConsentLevel, ctx.SovereigntyLevel, ctx.Roles,
		ctx.CommunityID, ctx.ElderApproval, f.CommunityID, ctx.ComplianceFrameworks)
	return fmt.Sprintf("%x", h.Sum(nil))
}
