package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, table RuleTable) *Engine {
	t.Helper()
	e, err := NewEngine(table, 0, nil)
	require.NoError(t, err)
	return e
}

func TestTransformConsentLevelDefaultMapping(t *testing.T) {
	e := newTestEngine(t, nil)

	cases := []struct {
		level ConsentLevel
		want  RuleKind
	}{
		{ConsentFullAutomation, RulePass},
		{ConsentPartialAutomation, RuleMask},
		{ConsentManualOnly, RuleTokenize},
		{ConsentNone, RuleDrop},
	}
	for _, c := range cases {
		out := e.Transform(Context{ConsentLevel: c.level}, []Field{
			{Path: "customer.email", Value: "jane@example.com"},
		})
		require.Len(t, out.Trace, 1)
		assert.Equal(t, c.want, out.Trace[0].Kind, "consent level %s", c.level)
	}
}

func TestTransformRuleTableOverridesConsentDefault(t *testing.T) {
	e := newTestEngine(t, RuleTable{
		{Path: "customer.taxFileNumber", Kind: RuleRedact},
	})

	out := e.Transform(Context{ConsentLevel: ConsentFullAutomation}, []Field{
		{Path: "customer.taxFileNumber", Value: "123456789", Tags: []Tag{TagFinancialData}},
	})

	assert.Equal(t, RuleRedact, out.Trace[0].Kind)
	assert.Equal(t, "[REDACTED_financialData]", out.Payload["customer.taxFileNumber"])
}

func TestTransformComplianceFallback(t *testing.T) {
	table := RuleTable{
		{Path: "transaction.counterpartyName", Kind: RulePass, RequiredCompliance: "AUSTRAC",
			FallbackKind: RuleTokenize, TokenizeKeyID: "austrac-counterparty"},
	}
	e := newTestEngine(t, table)

	withFramework := e.Transform(Context{ConsentLevel: ConsentNone, ComplianceFrameworks: []string{"AUSTRAC"}}, []Field{
		{Path: "transaction.counterpartyName", Value: "Acme Pty Ltd"},
	})
	assert.Equal(t, RulePass, withFramework.Trace[0].Kind)
	assert.Equal(t, "Acme Pty Ltd", withFramework.Payload["transaction.counterpartyName"])

	withoutFramework := e.Transform(Context{ConsentLevel: ConsentNone}, []Field{
		{Path: "transaction.counterpartyName", Value: "Acme Pty Ltd"},
	})
	assert.Equal(t, RuleTokenize, withoutFramework.Trace[0].Kind)
	assert.Contains(t, withoutFramework.Payload["transaction.counterpartyName"], "[TOKEN:")
}

func TestTransformIndigenousCulturalRequiresFullRelease(t *testing.T) {
	e := newTestEngine(t, nil)
	field := Field{
		Path:        "record.storyText",
		Value:       "a dreaming story",
		Tags:        []Tag{TagIndigenousCultural},
		CommunityID: "community-1",
	}

	denied := e.Transform(Context{
		SovereigntyLevel: SovereigntyCommunity,
		CommunityID:      "community-1",
	}, []Field{field})
	assert.Equal(t, RuleDrop, denied.Trace[0].Kind)

	granted := e.Transform(Context{
		SovereigntyLevel: SovereigntyTraditionalOwner,
		Roles:            []string{RoleTraditionalOwner},
		ElderApproval:    true,
		CommunityID:      "community-1",
	}, []Field{field})
	assert.Equal(t, RulePass, granted.Trace[0].Kind)
	assert.Equal(t, "a dreaming story", granted.Payload["record.storyText"])
}

func TestTransformIndigenousCulturalCommunityMismatchDenied(t *testing.T) {
	e := newTestEngine(t, nil)
	out := e.Transform(Context{
		SovereigntyLevel: SovereigntyTraditionalOwner,
		Roles:            []string{RoleTraditionalOwner},
		ElderApproval:    true,
		CommunityID:      "community-2",
	}, []Field{{
		Path:        "record.storyText",
		Tags:        []Tag{TagIndigenousCultural},
		CommunityID: "community-1",
	}})
	assert.Equal(t, RuleDrop, out.Trace[0].Kind)
}

func TestTransformSacredFieldNeverReleased(t *testing.T) {
	e := newTestEngine(t, nil)
	out := e.Transform(Context{
		SovereigntyLevel: SovereigntyTraditionalOwner,
		Roles:            []string{RoleTraditionalOwner},
		ElderApproval:    true,
		CommunityID:      "community-1",
	}, []Field{{
		Path:        "record.sacredSite",
		Tags:        []Tag{TagSacred},
		CommunityID: "community-1",
	}})
	assert.Equal(t, RuleDrop, out.Trace[0].Kind)
}

func TestTransformIsPure(t *testing.T) {
	e := newTestEngine(t, RuleTable{{Path: "customer.email", Kind: RuleMask}})
	ctx := Context{ConsentLevel: ConsentPartialAutomation}
	field := Field{Path: "customer.email", Value: "jane.doe@example.com"}

	first := e.Transform(ctx, []Field{field})
	second := e.Transform(ctx, []Field{field})

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestTransformSummaryCounts(t *testing.T) {
	e := newTestEngine(t, RuleTable{
		{Path: "a", Kind: RulePass},
		{Path: "b", Kind: RuleDrop},
		{Path: "c", Kind: RuleTokenize},
	})
	out := e.Transform(Context{}, []Field{{Path: "a"}, {Path: "b"}, {Path: "c"}})
	assert.Equal(t, 2, out.Summary.FieldsTransformed)
	assert.Equal(t, 1, out.Summary.FieldsDropped)
	assert.Equal(t, 1, out.Summary.FieldsTokenized)
}
