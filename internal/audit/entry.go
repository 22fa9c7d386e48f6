// Package audit implements the Audit Ledger: a durable, hash-chained,
// append-only record of every administrative and runtime decision. Each
// entry's integrityHash binds it to its predecessor, so mutating any past
// entry breaks verification from that point forward.
package audit

import (
	"strings"
	"time"
)

// Result is the outcome recorded against an audited action.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultPartial Result = "PARTIAL"
)

// Metadata carries the caller identity attributes recorded alongside every
// entry (mirrors internal/actorctx.Fields, but stored independently since
// an AuditEntry must remain a self-contained, immutable record).
type Metadata struct {
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// Entry is one append-only row in the ledger.
type Entry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         string         `json:"userId"`
	Action         string         `json:"action"`
	Target         string         `json:"target"`
	Details        map[string]any `json:"details,omitempty"`
	Result         Result         `json:"result"`
	Metadata       Metadata       `json:"metadata"`
	RetentionYears int            `json:"retentionYears"`
	PrevHash       string         `json:"prevHash"`
	IntegrityHash  string         `json:"integrityHash"`
}

// genesisHash seeds the chain for the very first entry ever recorded.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

// indigenousMarkerKeys are detail-key prefixes that force the 50-year
// indigenous-data retention tier (§7 retention rule): any key starting with
// one of these — e.g. "indigenousData", not just an exact "indigenous"
// match — counts as a marker.
var indigenousMarkerKeys = []string{"indigenous", "culturalSensitivity", "traditionalOwners"}

// complianceRetentionFrameworks are the frameworks that force the 10-year
// compliance retention tier.
var complianceRetentionFrameworks = map[string]bool{
	"AUSTRAC":     true,
	"Privacy Act": true,
	"ISM":         true,
}

// RetentionYears implements the retention rule applied at record time:
// indigenous markers win over compliance frameworks, which win over the
// default.
func RetentionYears(details map[string]any, complianceFrameworks []string) int {
	for detailKey := range details {
		for _, marker := range indigenousMarkerKeys {
			if strings.HasPrefix(detailKey, marker) {
				return 50
			}
		}
	}
	for _, f := range complianceFrameworks {
		if complianceRetentionFrameworks[f] {
			return 10
		}
	}
	return 7
}
