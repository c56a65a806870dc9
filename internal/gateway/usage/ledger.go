package usage

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	recentKey = "usage:recent"

	// Capacity of the bounded ring in the store; oldest records beyond it
	// are evicted on every write.
	Capacity = 10000

	queueSize = 1024
)

// Record is one billable event. It is an operational/observability aid,
// not an authoritative billing ledger.
type Record struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Endpoint   string    `json:"endpoint"`
	Model      string    `json:"model"`
	TokensUsed int       `json:"tokens_used"`
	Degraded   bool      `json:"degraded,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store is the list contract the ledger needs
type Store interface {
	LPushTrim(ctx context.Context, key string, value string, keep int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// Ledger is an append-only, bounded usage record sink. Record never blocks
// the request path: events flow through a bounded queue drained by a single
// worker, and when the queue is full the new record is dropped (drop-newest)
// with a log line rather than displacing queued ones.
type Ledger struct {
	store   Store
	queue   chan Record
	done    chan struct{}
	dropped uint64

	closeOnce sync.Once
}

// NewLedger creates the ledger and starts its worker
func NewLedger(store Store) *Ledger {
	l := &Ledger{
		store: store,
		queue: make(chan Record, queueSize),
		done:  make(chan struct{}),
	}
	go l.drain()
	return l
}

// Record enqueues a usage record, fire-and-forget. Missing ID/Timestamp
// are filled in here so callers only supply the billable fields.
func (l *Ledger) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	select {
	case l.queue <- rec:
	default:
		n := atomic.AddUint64(&l.dropped, 1)
		log.Printf("usage ledger queue full, dropped record for tenant %s (total dropped: %d)", rec.TenantID, n)
	}
}

func (l *Ledger) drain() {
	defer close(l.done)

	for rec := range l.queue {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.LPushTrim(ctx, recentKey, string(data), Capacity); err != nil {
			log.Printf("usage ledger write dropped: %v", err)
		}
		cancel()
	}
}

// Recent returns up to limit records, most recent first. The result is
// bounded by both limit and the ledger's own capacity.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > Capacity {
		limit = Capacity
	}

	entries, err := l.store.LRange(ctx, recentKey, 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var rec Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// RecentForTenant returns up to limit records belonging to one tenant,
// most recent first. The shared list is scanned in full, so the result is
// exhaustive within the ledger's capacity.
func (l *Ledger) RecentForTenant(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > Capacity {
		limit = Capacity
	}

	all, err := l.Recent(ctx, Capacity)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, limit)
	for _, rec := range all {
		if rec.TenantID != tenantID {
			continue
		}
		records = append(records, rec)
		if len(records) == limit {
			break
		}
	}

	return records, nil
}

// Dropped returns how many records were discarded because the queue was full
func (l *Ledger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Close stops accepting records and waits for queued ones to flush
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
	})
}
