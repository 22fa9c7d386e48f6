// Package policy implements the Policy Decision Point (PDP): it evaluates
// an Intent against the active policy set for a target operation and
// returns a Decision.
package policy

import "time"

// Operation enumerates the actions an Intent may request.
type Operation string

const (
	OperationViewBalance    Operation = "VIEW_BALANCE"
	OperationCreatePayment  Operation = "CREATE_PAYMENT"
	OperationGenerateReport Operation = "GENERATE_REPORT"
)

// UserContext is the caller identity and authentication posture.
type UserContext struct {
	ID            string
	Roles         []string
	ConsentLevels []string
	AuthVerified  bool
	MFA           bool
	Location      string
	Network       string
}

// Financial is the financial shape of the requested action.
type Financial struct {
	Amount               float64
	Currency             string
	Categories           []string
	Sensitivity          string
	ContainsPersonalData bool
	IndigenousData       *IndigenousData
}

// IndigenousData marks financial data subject to Indigenous data
// sovereignty protocols.
type IndigenousData struct {
	TraditionalOwners []string
	CommunityID       string
}

// RequestMeta is request-envelope metadata.
type RequestMeta struct {
	Timestamp     time.Time
	RequestID     string
	SessionID     string
	Endpoint      string
	Method        string
	Justification string
}

// Compliance is the compliance posture attached to an Intent.
type Compliance struct {
	PrivacyAct          bool
	DataResidency       string
	IndigenousProtocols bool
}

// Intent is the structured description of a requested action, built once by
// the caller and consumed once by PDP.
type Intent struct {
	ID         string
	Operation  Operation
	User       UserContext
	Financial  Financial
	Request    RequestMeta
	Compliance Compliance
}

// Outcome is a Decision's result.
type Outcome string

const (
	OutcomeAllow       Outcome = "allow"
	OutcomeDeny        Outcome = "deny"
	OutcomeConditional Outcome = "conditional"
)

// DecisionMetrics carries evaluation telemetry.
type DecisionMetrics struct {
	EvaluationTimeMicros int64
	CacheHit             bool
}

// Decision is PDP's evaluation outcome.
type Decision struct {
	Outcome          Outcome
	Reason           string
	EvaluatedPolicies []string
	Conditions       []string
	Obligations      []string
	Metrics          DecisionMetrics
}
