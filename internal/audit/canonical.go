package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalBytes renders e (without its IntegrityHash, which it never
// includes) as deterministic JSON: object keys sorted, UTC ISO-8601
// timestamps with millisecond precision. This is a versioned contract —
// any structural drift here breaks every future verification.
func canonicalBytes(e Entry) ([]byte, error) {
	m := map[string]any{
		"id":             e.ID,
		"timestamp":      e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		"userId":         e.UserID,
		"action":         e.Action,
		"target":         e.Target,
		"result":         string(e.Result),
		"retentionYears": e.RetentionYears,
		"prevHash":       e.PrevHash,
		"metadata": map[string]any{
			"sessionId": e.Metadata.SessionID,
			"requestId": e.Metadata.RequestID,
			"ipAddress": e.Metadata.IPAddress,
		},
	}
	if e.Details != nil {
		m["details"] = e.Details
	}
	return marshalSortedKeys(m)
}

// marshalSortedKeys marshals v to JSON with every object's keys in sorted
// order, recursively, so two structurally-identical maps always produce
// byte-identical output regardless of iteration order.
func marshalSortedKeys(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeSorted(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeSorted(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeSorted(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeSorted(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// computeIntegrityHash computes integrityHash = H(canonical(entry without
// integrityHash) ‖ prevHash ‖ integrityKey), using HMAC-SHA256 keyed by the
// ledger's integrity key so that, unlike a bare hash, forging a valid chain
// requires the key, not just knowledge of the algorithm.
func computeIntegrityHash(e Entry, integrityKey []byte) (string, error) {
	canon, err := canonicalBytes(e)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	mac := hmac.New(sha256.New, integrityKey)
	mac.Write(canon)
	mac.Write([]byte(e.PrevHash))
	return fmt.Sprintf("%x", mac.Sum(nil)), nil
}
