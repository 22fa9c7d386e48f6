package main

import (
	"context"

	"github.com/altairalabs/finguard/internal/actorctx"
	"github.com/altairalabs/finguard/internal/audit"
)

// auditAdapter narrows *audit.Ledger's richer Record signature to the
// Record(ctx, action, target, details) error shape every component's own
// AuditRecorder interface shares. userID comes from the request's actor
// context, since none of KM/PVS/PDP/APS/RPE/API carry it directly. result
// comes from details["result"] when the caller set one (PDP denials, APS
// FAIL_ATOMIC_TRANSACTION, RPE ROLLBACK_FAILED/ROLLBACK_PLAN_VALIDATED, API
// ACCESS_DENIED all do), defaulting to SUCCESS for actions that only ever
// audit their success path.
type auditAdapter struct {
	ledger *audit.Ledger
}

func newAuditAdapter(ledger *audit.Ledger) *auditAdapter {
	return &auditAdapter{ledger: ledger}
}

func (a *auditAdapter) Record(ctx context.Context, action, target string, details map[string]any) error {
	userID := actorctx.ActorID(ctx)
	_, err := a.ledger.Record(ctx, userID, action, target, details, resultFromDetails(details), audit.Metadata{
		SessionID: actorctx.SessionID(ctx),
		RequestID: actorctx.RequestID(ctx),
		IPAddress: actorctx.IPAddress(ctx),
	}, nil)
	return err
}

// resultFromDetails reads the optional "result" key a caller may have
// stuffed into details ("SUCCESS"/"FAILURE"/"PARTIAL") and maps it to
// audit.Result, defaulting to SUCCESS when absent or unrecognized.
func resultFromDetails(details map[string]any) audit.Result {
	raw, _ := details["result"].(string)
	switch audit.Result(raw) {
	case audit.ResultFailure:
		return audit.ResultFailure
	case audit.ResultPartial:
		return audit.ResultPartial
	default:
		return audit.ResultSuccess
	}
}
