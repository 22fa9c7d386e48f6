package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// dbPool abstracts the database operations the ledger needs, so production
// code runs against *pgxpool.Pool while tests substitute an in-memory or
// hand-rolled fake.
type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is the durable append-only backend the Ledger writes batches to and
// queries from.
type Store interface {
	// AppendBatch durably writes entries in order. Implementations must not
	// reorder them — the hash chain's order is already fixed by the time
	// this is called.
	AppendBatch(ctx context.Context, entries []Entry) error
	// Tail returns the most recently appended entry's IntegrityHash, or
	// genesisHash if the store is empty.
	Tail(ctx context.Context) (string, error)
	// Get returns a single entry by id.
	Get(ctx context.Context, id string) (Entry, error)
	// Query returns entries matching filter in chronological order.
	Query(ctx context.Context, filter QueryFilter) ([]Entry, error)
	// Walk iterates the chain from the given entry back to genesis,
	// calling fn for each entry encountered (including the starting one).
	Walk(ctx context.Context, fromID string, fn func(Entry) error) error
}

// QueryFilter selects entries for query() and stats().
type QueryFilter struct {
	UserID               string
	Action               string
	Result               Result
	From, To             time.Time
	RetentionYears       int
	ComplianceFramework  string
	Offset, Limit        int
}

// memoryStore is an in-memory, order-preserving Store used by tests;
// cmd/finguard-core always uses the Postgres store.
type memoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// NewMemoryStore builds an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{byID: map[string]int{}}
}

func (s *memoryStore) AppendBatch(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.byID[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *memoryStore) Tail(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return genesisHash, nil
	}
	return s.entries[len(s.entries)-1].IntegrityHash, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Entry{}, fgerr.ErrNotFound
	}
	return s.entries[idx], nil
}

func (s *memoryStore) Query(_ context.Context, filter QueryFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Result != "" && e.Result != filter.Result {
			continue
		}
		if filter.RetentionYears != 0 && e.RetentionYears != filter.RetentionYears {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *memoryStore) Walk(_ context.Context, fromID string, fn func(Entry) error) error {
	s.mu.RLock()
	idx, ok := s.byID[fromID]
	if !ok {
		s.mu.RUnlock()
		return fgerr.ErrNotFound
	}
	chain := make([]Entry, idx+1)
	copy(chain, s.entries[:idx+1])
	s.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		if err := fn(chain[i]); err != nil {
			return err
		}
	}
	return nil
}

// pgStore is the Postgres-backed Store for production use.
type pgStore struct {
	pool dbPool
}

// NewPostgresStore wraps pool (typically *pgxpool.Pool) as a Store.
func NewPostgresStore(pool dbPool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) AppendBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		details, err := marshalSortedKeys(e.Details)
		if err != nil {
			return fmt.Errorf("%w: marshal details: %v", fgerr.ErrIntegrity, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO audit_entries
				(id, timestamp, user_id, action, target, details, result,
				 session_id, request_id, ip_address, retention_years, prev_hash, integrity_hash)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			e.ID, e.Timestamp, e.UserID, e.Action, e.Target, details, string(e.Result),
			e.Metadata.SessionID, e.Metadata.RequestID, e.Metadata.IPAddress,
			e.RetentionYears, e.PrevHash, e.IntegrityHash)
		if err != nil {
			return fmt.Errorf("%w: insert audit entry: %v", fgerr.ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *pgStore) Tail(ctx context.Context) (string, error) {
	row := s.pool.QueryRow(ctx, `SELECT integrity_hash FROM audit_entries ORDER BY timestamp DESC LIMIT 1`)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if err == pgx.ErrNoRows {
			return genesisHash, nil
		}
		return "", fmt.Errorf("%w: query tail: %v", fgerr.ErrStorageUnavailable, err)
	}
	return hash, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, timestamp, user_id, action, target, details, result,
		       session_id, request_id, ip_address, retention_years, prev_hash, integrity_hash
		FROM audit_entries WHERE id = $1`, id)
	var e Entry
	var details []byte
	if err := row.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Target, &details, &e.Result,
		&e.Metadata.SessionID, &e.Metadata.RequestID, &e.Metadata.IPAddress,
		&e.RetentionYears, &e.PrevHash, &e.IntegrityHash); err != nil {
		if err == pgx.ErrNoRows {
			return Entry{}, fgerr.ErrNotFound
		}
		return Entry{}, fmt.Errorf("%w: query entry: %v", fgerr.ErrStorageUnavailable, err)
	}
	if err := unmarshalDetails(details, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *pgStore) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	qb := newQueryBuilder()
	qb.where("1=1")
	if filter.UserID != "" {
		qb.add("user_id", filter.UserID)
	}
	if filter.Action != "" {
		qb.add("action", filter.Action)
	}
	if filter.Result != "" {
		qb.add("result", string(filter.Result))
	}
	if filter.RetentionYears != 0 {
		qb.add("retention_years", filter.RetentionYears)
	}
	if !filter.From.IsZero() {
		qb.whereOp("timestamp", ">=", filter.From)
	}
	if !filter.To.IsZero() {
		qb.whereOp("timestamp", "<=", filter.To)
	}
	qb.appendPagination(filter.Offset, filter.Limit)

	rows, err := s.pool.Query(ctx, qb.selectSQL(), qb.args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query entries: %v", fgerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Target, &details, &e.Result,
			&e.Metadata.SessionID, &e.Metadata.RequestID, &e.Metadata.IPAddress,
			&e.RetentionYears, &e.PrevHash, &e.IntegrityHash); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", fgerr.ErrStorageUnavailable, err)
		}
		if err := unmarshalDetails(details, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration: %v", fgerr.ErrStorageUnavailable, err)
	}
	return out, nil
}

func (s *pgStore) Walk(ctx context.Context, fromID string, fn func(Entry) error) error {
	cur, err := s.Get(ctx, fromID)
	if err != nil {
		return err
	}
	for {
		if err := fn(cur); err != nil {
			return err
		}
		if cur.PrevHash == genesisHash {
			return nil
		}
		prev, err := s.getByIntegrityHash(ctx, cur.PrevHash)
		if err != nil {
			return err
		}
		cur = prev
	}
}

func (s *pgStore) getByIntegrityHash(ctx context.Context, hash string) (Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, timestamp, user_id, action, target, details, result,
		       session_id, request_id, ip_address, retention_years, prev_hash, integrity_hash
		FROM audit_entries WHERE integrity_hash = $1`, hash)
	var e Entry
	var details []byte
	if err := row.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Target, &details, &e.Result,
		&e.Metadata.SessionID, &e.Metadata.RequestID, &e.Metadata.IPAddress,
		&e.RetentionYears, &e.PrevHash, &e.IntegrityHash); err != nil {
		if err == pgx.ErrNoRows {
			return Entry{}, fgerr.ErrIntegrity
		}
		return Entry{}, fmt.Errorf("%w: query by integrity hash: %v", fgerr.ErrStorageUnavailable, err)
	}
	if err := unmarshalDetails(details, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// unmarshalDetails decodes the details JSONB column back into e.Details.
// canonicalBytes folds Details into the integrity hash, so every read path
// must populate it or Verify/VerifyChain recompute a hash that never
// matches what was stored.
func unmarshalDetails(raw []byte, e *Entry) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &e.Details); err != nil {
		return fmt.Errorf("%w: unmarshal details: %v", fgerr.ErrIntegrity, err)
	}
	return nil
}

// queryBuilder accumulates a parameterized WHERE clause, mirroring the
// teacher audit logger's helper of the same name and purpose.
type queryBuilder struct {
	conditions []string
	args       []any
	offset     int
	limit      int
}

func newQueryBuilder() *queryBuilder { return &queryBuilder{} }

func (q *queryBuilder) where(cond string) { q.conditions = append(q.conditions, cond) }

func (q *queryBuilder) add(column string, value any) {
	q.args = append(q.args, value)
	q.conditions = append(q.conditions, fmt.Sprintf("%s = $%d", column, len(q.args)))
}

func (q *queryBuilder) whereOp(column, op string, value any) {
	q.args = append(q.args, value)
	q.conditions = append(q.conditions, fmt.Sprintf("%s %s $%d", column, op, len(q.args)))
}

func (q *queryBuilder) appendPagination(offset, limit int) {
	q.offset = offset
	q.limit = limit
}

func (q *queryBuilder) selectSQL() string {
	sql := `SELECT id, timestamp, user_id, action, target, details, result,
	               session_id, request_id, ip_address, retention_years, prev_hash, integrity_hash
	        FROM audit_entries`
	if len(q.conditions) > 0 {
		sql += " WHERE "
		for i, c := range q.conditions {
			if i > 0 {
				sql += " AND "
			}
			sql += c
		}
	}
	sql += " ORDER BY timestamp ASC"
	if q.limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.limit)
	}
	if q.offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", q.offset)
	}
	return sql
}
