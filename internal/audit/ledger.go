package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/altairalabs/finguard/internal/fgerr"
	"github.com/altairalabs/finguard/pkg/metrics"
)

const (
	// DefaultBufferSize is the default capacity of the durable-write queue.
	DefaultBufferSize = 1024
	// DefaultBatchSize is the maximum number of entries written per batch.
	DefaultBatchSize = 50
	// DefaultFlushInterval is the maximum time between batch writes.
	DefaultFlushInterval = 500 * time.Millisecond
)

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Ledger is the Audit Ledger. Unlike the teacher's multi-worker async
// writer, Ledger chains entries synchronously inside Record — under a
// single mutex that owns the chain tail — so the hash chain's strict
// ordering holds regardless of write latency; only the durable write to
// Store is deferred to a single background goroutine (exactly one, so
// batches are never written out of the order they were chained in).
type Ledger struct {
	mu           sync.Mutex
	tail         string
	integrityKey []byte

	store   Store
	buffer  chan Entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
	metrics *metrics.AuditMetrics
	log     logr.Logger
	cfg     LedgerConfig
}

// NewLedger builds a Ledger writing through to store, chaining entries
// with integrityKey (cmd/finguard-core takes it from --audit-integrity-key
// or AUDIT_INTEGRITY_KEY, not from km.Manager).
func NewLedger(ctx context.Context, store Store, integrityKey []byte, log logr.Logger, m *metrics.AuditMetrics, cfg LedgerConfig) (*Ledger, error) {
	cfg = cfg.withDefaults()

	tail, err := store.Tail(ctx)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		tail:         tail,
		integrityKey: integrityKey,
		store:        store,
		buffer:       make(chan Entry, cfg.BufferSize),
		stopCh:       make(chan struct{}),
		metrics:      m,
		log:          log.WithName("audit-ledger"),
		cfg:          cfg,
	}

	l.wg.Add(1)
	go l.worker()

	return l, nil
}

// Record chains and durably enqueues a new entry, returning its id. It
// blocks if the durable-write queue is full rather than drop the entry —
// unlike best-effort telemetry, an audit record is the system of record
// and must never be silently lost.
func (l *Ledger) Record(ctx context.Context, userID, action, target string, details map[string]any, result Result, meta Metadata, complianceFrameworks []string) (string, error) {
	start := time.Now()

	l.mu.Lock()
	entry := Entry{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		UserID:         userID,
		Action:         action,
		Target:         target,
		Details:        details,
		Result:         result,
		Metadata:       meta,
		RetentionYears: RetentionYears(details, complianceFrameworks),
		PrevHash:       l.tail,
	}
	hash, err := computeIntegrityHash(entry, l.integrityKey)
	if err != nil {
		l.mu.Unlock()
		return "", err
	}
	entry.IntegrityHash = hash
	l.tail = hash
	l.mu.Unlock()

	select {
	case l.buffer <- entry:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: enqueue audit entry: %v", fgerr.ErrTimeout, ctx.Err())
	case <-l.stopCh:
		return "", fmt.Errorf("%w: ledger is closed", fgerr.ErrStorageUnavailable)
	}

	if l.metrics != nil {
		l.metrics.EntriesRecorded.WithLabelValues(action).Inc()
		l.metrics.WriteDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
	return entry.ID, nil
}

func (l *Ledger) worker() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, l.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.store.AppendBatch(context.Background(), batch); err != nil {
			l.log.Error(err, "failed to flush audit batch", "size", len(batch))
			if l.metrics != nil {
				for _, e := range batch {
					l.metrics.WriteErrors.WithLabelValues(e.Action).Inc()
				}
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.buffer:
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stopCh:
			l.drain(&batch)
			flush()
			return
		}
	}
}

// drain empties any entries still sitting in the channel at shutdown.
func (l *Ledger) drain(batch *[]Entry) {
	for {
		select {
		case e := <-l.buffer:
			*batch = append(*batch, e)
		default:
			return
		}
	}
}

// Close stops the background writer after flushing any queued entries.
func (l *Ledger) Close() error {
	close(l.stopCh)
	l.wg.Wait()
	return nil
}

// Query returns entries matching filter.
func (l *Ledger) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	start := time.Now()
	entries, err := l.store.Query(ctx, filter)
	if l.metrics != nil {
		l.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	return entries, err
}

// Verify recomputes entryID's integrityHash against its stored prevHash and
// reports whether it is unchanged.
func (l *Ledger) Verify(ctx context.Context, entryID string) (bool, error) {
	if l.metrics != nil {
		l.metrics.ChainVerifications.Inc()
	}

	e, err := l.store.Get(ctx, entryID)
	if err != nil {
		return false, err
	}
	recomputed, err := computeIntegrityHash(e, l.integrityKey)
	if err != nil {
		return false, err
	}
	ok := recomputed == e.IntegrityHash
	if !ok && l.metrics != nil {
		l.metrics.ChainBreaks.Inc()
	}
	return ok, nil
}

// VerifyChain walks from entryID back to genesis, verifying every entry in
// the chain. It returns the id of the broken entry nearest genesis (the
// last one met on the walk back), or "" if the whole chain back to genesis
// is intact.
func (l *Ledger) VerifyChain(ctx context.Context, entryID string) (string, error) {
	var broken string
	err := l.store.Walk(ctx, entryID, func(e Entry) error {
		recomputed, err := computeIntegrityHash(e, l.integrityKey)
		if err != nil {
			return err
		}
		if recomputed != e.IntegrityHash {
			broken = e.ID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if l.metrics != nil {
		l.metrics.ChainVerifications.Inc()
		if broken != "" {
			l.metrics.ChainBreaks.Inc()
		}
	}
	return broken, nil
}

// Summary aggregates entry counts for a compliance report.
type Summary struct {
	From, To   time.Time
	ByAction   map[string]int
	ByResult   map[Result]int
	ByUser     map[string]int
	TotalCount int
}

// Stats aggregates entries between from and to by action/result/user.
func (l *Ledger) Stats(ctx context.Context, from, to time.Time) (Summary, error) {
	entries, err := l.store.Query(ctx, QueryFilter{From: from, To: to})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		From: from, To: to,
		ByAction: map[string]int{},
		ByResult: map[Result]int{},
		ByUser:   map[string]int{},
	}
	for _, e := range entries {
		summary.ByAction[e.Action]++
		summary.ByResult[e.Result]++
		summary.ByUser[e.UserID]++
		summary.TotalCount++
	}
	return summary, nil
}
