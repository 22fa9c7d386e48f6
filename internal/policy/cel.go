package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/altairalabs/finguard/internal/pvs"
)

// compiledRule holds a pre-compiled CEL program for one PolicyVersion rule.
// A CEL rule in FinGuard evaluates to true when the request is ALLOWED
// (unlike the teacher's deny-rule convention), matching spec.md's
// `allow = input.amount < 10000` rule shape.
type compiledRule struct {
	name    string
	program cel.Program
}

// compiledPolicy holds a compiled PolicyVersion ready for repeated
// evaluation against an activation map.
type compiledPolicy struct {
	policyID    string
	version     string
	enforcement pvs.Enforcement
	priority    int
	rules       []compiledRule
}

// celCompiler compiles PolicyVersion rules against a shared CEL environment,
// mirroring ee/pkg/policy/evaluator.go's Evaluator: one env, one Variable
// set, cached compiled programs keyed by policyId/version so repeat
// evaluations of the same active set never recompile.
type celCompiler struct {
	mu    sync.RWMutex
	env   *cel.Env
	cache map[string]*compiledPolicy // key: policyId@version@hash
}

func newCELCompiler() (*celCompiler, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return &celCompiler{env: env, cache: map[string]*compiledPolicy{}}, nil
}

// newCELEnv declares the variables rules may reference: the Intent fields
// flattened into `intent`, plus `user`/`financial`/`request`/`compliance`
// convenience aliases.
func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("financial", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("compliance", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
}

// compile returns v compiled, reusing a cached compilation keyed by
// policyId@version@hash when v's content hash is unchanged.
func (c *celCompiler) compile(v pvs.PolicyVersion) (*compiledPolicy, error) {
	key := v.PolicyID + "@" + v.Version + "@" + v.Hash

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	rules := make([]compiledRule, 0, len(v.Content.Rules))
	for name, expr := range v.Content.Rules {
		program, err := c.compileExpr(expr)
		if err != nil {
			return nil, fmt.Errorf("policy %s rule %q: %w", v.PolicyID, name, err)
		}
		rules = append(rules, compiledRule{name: name, program: program})
	}

	compiled := &compiledPolicy{
		policyID:    v.PolicyID,
		version:     v.Version,
		enforcement: v.Content.Config.Enforcement,
		priority:    v.Content.Config.Priority,
		rules:       rules,
	}

	c.mu.Lock()
	c.cache[key] = compiled
	c.mu.Unlock()
	return compiled, nil
}

func (c *celCompiler) compileExpr(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return program, nil
}

// ValidateCEL checks a CEL expression compiles without error. Nothing in
// this module calls it; PVS stores rule content without compiling it.
func (c *celCompiler) ValidateCEL(expr string) error {
	_, err := c.compileExpr(expr)
	return err
}

// buildActivation projects an Intent into the CEL activation map.
func buildActivation(intent Intent) map[string]any {
	user := map[string]any{
		"id":            intent.User.ID,
		"roles":         intent.User.Roles,
		"consentLevels": intent.User.ConsentLevels,
		"authVerified":  intent.User.AuthVerified,
		"mfa":           intent.User.MFA,
		"location":      intent.User.Location,
		"network":       intent.User.Network,
	}
	financial := map[string]any{
		"amount":               intent.Financial.Amount,
		"currency":             intent.Financial.Currency,
		"categories":           intent.Financial.Categories,
		"sensitivity":          intent.Financial.Sensitivity,
		"containsPersonalData": intent.Financial.ContainsPersonalData,
	}
	request := map[string]any{
		"requestId":     intent.Request.RequestID,
		"sessionId":     intent.Request.SessionID,
		"endpoint":      intent.Request.Endpoint,
		"method":        intent.Request.Method,
		"justification": intent.Request.Justification,
	}
	compliance := map[string]any{
		"privacyAct":          intent.Compliance.PrivacyAct,
		"dataResidency":       intent.Compliance.DataResidency,
		"indigenousProtocols": intent.Compliance.IndigenousProtocols,
	}

	return map[string]any{
		"intent": map[string]any{
			"id":        intent.ID,
			"operation": string(intent.Operation),
		},
		"user":       user,
		"financial":  financial,
		"request":    request,
		"compliance": compliance,
	}
}

// ruleOutcome is one rule's evaluation result: whether it allows the
// request, and any error encountered running it.
type ruleOutcome struct {
	name    string
	allowed bool
	err     error
}

func evaluateRule(rule compiledRule, activation map[string]any) ruleOutcome {
	out, _, err := rule.program.Eval(activation)
	if err != nil {
		return ruleOutcome{name: rule.name, err: fmt.Errorf("rule %q: %w", rule.name, err)}
	}
	allowed, ok := isTruthy(out)
	if !ok {
		return ruleOutcome{name: rule.name, err: fmt.Errorf("rule %q returned non-bool type %s", rule.name, out.Type())}
	}
	return ruleOutcome{name: rule.name, allowed: allowed}
}

func isTruthy(val ref.Val) (bool, bool) {
	if val.Type() == types.BoolType {
		b, ok := val.Value().(bool)
		return b, ok
	}
	return false, false
}
