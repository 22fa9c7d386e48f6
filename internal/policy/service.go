package policy

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/internal/pvs"
	"github.com/altairalabs/finguard/pkg/metrics"
)

// PolicyProvider loads the active policy set, generalizing PVS's role: in
// the teacher this was policies compiled from CRDs, here they are loaded
// fresh (subject to the cache) from the Policy Version Store.
type PolicyProvider interface {
	ListActiveForOperation(ctx context.Context, operation string, policyIDs []string) ([]pvs.PolicyVersion, error)
}

// AuditRecorder is the subset of the audit ledger's interface PDP needs.
type AuditRecorder interface {
	Record(ctx context.Context, action, target string, details map[string]any) error
}

// ExternalEvaluator is an optional remote rule evaluator. When configured,
// PDP calls it instead of evaluating CEL locally for policies whose content
// carries an "external" marker — unused by default.
type ExternalEvaluator interface {
	Evaluate(ctx context.Context, policyID string, activation map[string]any) (bool, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10_000
	}
	return c
}

// Service is the Policy Decision Point.
type Service struct {
	provider PolicyProvider
	audit    AuditRecorder
	compiler *celCompiler
	cache    DecisionCache
	external ExternalEvaluator
	breaker  *gobreaker.CircuitBreaker[bool]
	metrics  *metrics.PDPMetrics
	cfg      ServiceConfig
}

// NewService builds a Service. cache may be nil to disable caching.
func NewService(provider PolicyProvider, audit AuditRecorder, cache DecisionCache, external ExternalEvaluator, m *metrics.PDPMetrics, cfg ServiceConfig) (*Service, error) {
	cfg = cfg.withDefaults()
	compiler, err := newCELCompiler()
	if err != nil {
		return nil, err
	}

	var breaker *gobreaker.CircuitBreaker[bool]
	if external != nil {
		breaker = gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
			Name:        "pdp-external-evaluator",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 },
		})
	}

	return &Service{
		provider: provider,
		audit:    audit,
		compiler: compiler,
		cache:    cache,
		external: external,
		breaker:  breaker,
		metrics:  m,
		cfg:      cfg,
	}, nil
}

// InvalidateCache clears the decision cache. Called by the API handlers
// after a deploy, archive, restore or atomic transaction, and by RPE's
// CLEAR_CACHE phase.
func (s *Service) InvalidateCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// Evaluate evaluates intent against the active policy set matching
// policyNames (empty means every policy whose scope matches the
// operation), returning a Decision. Exactly one EVALUATE_POLICY audit
// entry is recorded per call, success for allow/conditional.
func (s *Service) Evaluate(ctx context.Context, intent Intent, policyNames []string) (Decision, error) {
	start := time.Now()

	decision, cacheHit, err := s.evaluateUncached(ctx, intent, policyNames)
	decision.Metrics.CacheHit = cacheHit
	decision.Metrics.EvaluationTimeMicros = time.Since(start).Microseconds()

	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(decision.Outcome)).Inc()
		s.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
		if cacheHit {
			s.metrics.CacheHits.Inc()
		} else {
			s.metrics.CacheMisses.Inc()
		}
		if err != nil {
			s.metrics.EvaluationErrors.Inc()
		}
	}

	s.auditDecision(ctx, intent, decision)
	return decision, err
}

func (s *Service) evaluateUncached(ctx context.Context, intent Intent, policyNames []string) (Decision, bool, error) {
	versions, err := s.provider.ListActiveForOperation(ctx, string(intent.Operation), policyNames)
	if err != nil {
		return Decision{Outcome: OutcomeDeny, Reason: "evaluation_error"}, false, fmt.Errorf("%w: load active policies: %v", fgerr.ErrEvaluation, err)
	}

	keys := make([]policyForCacheKey, 0, len(versions))
	for _, v := range versions {
		keys = append(keys, policyForCacheKey{policyID: v.PolicyID, version: v.Version, hash: v.Hash})
	}

	var key string
	if s.cache != nil {
		key = cacheKey(intent, keys)
		if cached, ok := s.cache.Get(ctx, key); ok {
			return cached, true, nil
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		if versions[i].Content.Config.Priority != versions[j].Content.Config.Priority {
			return versions[i].Content.Config.Priority > versions[j].Content.Config.Priority
		}
		return versions[i].PolicyID < versions[j].PolicyID
	})

	decision, err := s.evaluateOrdered(ctx, intent, versions)
	if err == nil && s.cache != nil {
		s.cache.Set(ctx, key, decision, s.cfg.CacheTTL)
	}
	return decision, false, err
}

func (s *Service) evaluateOrdered(ctx context.Context, intent Intent, versions []pvs.PolicyVersion) (Decision, error) {
	activation := buildActivation(intent)

	var evaluated []string
	var conditions []string
	var obligations []string
	hasConditional := false

	for _, v := range versions {
		evaluated = append(evaluated, v.PolicyID)

		allowed, reason, err := s.evaluatePolicy(ctx, v, activation)
		if err != nil {
			return Decision{
				Outcome:           OutcomeDeny,
				Reason:            "evaluation_error",
				EvaluatedPolicies: evaluated,
			}, fmt.Errorf("%w: %v", fgerr.ErrEvaluation, err)
		}
		if allowed {
			continue
		}

		switch v.Content.Config.Enforcement {
		case pvs.EnforcementBlocking:
			return Decision{
				Outcome:           OutcomeDeny,
				Reason:            reason,
				EvaluatedPolicies: evaluated,
			}, nil
		default: // WARNING, ADVISORY: conditional, evaluation continues
			hasConditional = true
			conditions = append(conditions, reason)
			obligations = append(obligations, fmt.Sprintf("notify_compliance:%s", v.PolicyID))
		}
	}

	if hasConditional {
		return Decision{
			Outcome:           OutcomeConditional,
			EvaluatedPolicies: evaluated,
			Conditions:        conditions,
			Obligations:       obligations,
		}, nil
	}
	return Decision{Outcome: OutcomeAllow, EvaluatedPolicies: evaluated}, nil
}

// evaluatePolicy evaluates every rule of v, returning whether the policy
// allows the request and, if not, a human-readable reason naming the first
// violated rule.
func (s *Service) evaluatePolicy(ctx context.Context, v pvs.PolicyVersion, activation map[string]any) (bool, string, error) {
	if s.external != nil && usesExternalEvaluator(v) {
		allowed, err := s.callExternalWithRetry(ctx, v.PolicyID, activation)
		if err != nil {
			return false, "", err
		}
		if !allowed {
			return false, fmt.Sprintf("policy %s denied by external evaluator", v.PolicyID), nil
		}
		return true, "", nil
	}

	compiled, err := s.compiler.compile(v)
	if err != nil {
		return false, "", err
	}
	for _, rule := range compiled.rules {
		result := evaluateRule(rule, activation)
		if result.err != nil {
			return false, "", result.err
		}
		if !result.allowed {
			return false, fmt.Sprintf("policy %s rule %q not satisfied", v.PolicyID, result.name), nil
		}
	}
	return true, "", nil
}

func usesExternalEvaluator(v pvs.PolicyVersion) bool {
	external, _ := v.Content.Data["external"].(bool)
	return external
}

// callExternalWithRetry calls the external evaluator through a circuit
// breaker, retrying once with jitter on a transport fault.
func (s *Service) callExternalWithRetry(ctx context.Context, policyID string, activation map[string]any) (bool, error) {
	call := func() (bool, error) {
		return s.breaker.Execute(func() (bool, error) {
			return s.external.Evaluate(ctx, policyID, activation)
		})
	}

	allowed, err := call()
	if err == nil {
		return allowed, nil
	}

	jitter := time.Duration(rand.Intn(50)) * time.Millisecond
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return call()
}

func (s *Service) auditDecision(ctx context.Context, intent Intent, decision Decision) {
	if s.audit == nil {
		return
	}

	result := "SUCCESS"
	if decision.Outcome == OutcomeDeny {
		result = "FAILURE"
	}

	details := map[string]any{
		"result":               result,
		"outcome":              string(decision.Outcome),
		"reason":               decision.Reason,
		"evaluatedPolicies":    decision.EvaluatedPolicies,
		"evaluationTimeMicros": decision.Metrics.EvaluationTimeMicros,
		"cacheHit":             decision.Metrics.CacheHit,
	}
	if intent.Financial.IndigenousData != nil {
		details["traditionalOwners"] = intent.Financial.IndigenousData.TraditionalOwners
	}

	_ = s.audit.Record(ctx, "EVALUATE_POLICY", intent.ID, details)
}
