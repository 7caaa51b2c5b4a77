package parley

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// quotaWindow is the length of a user's rolling allowance window,
// anchored to the user's last reset rather than a calendar day.
const quotaWindow = 24 * time.Hour

// ErrNoQuotaRecord is returned by Commit when called for a user that
// was never admitted. Admission always creates the record, so hitting
// this is a programming error in the caller.
var ErrNoQuotaRecord = errors.New("no quota record for user")

// UserQuotaRecord tracks one user's consumption within their current
// rolling window. Records are created lazily on first contact and
// never deleted.
type UserQuotaRecord struct {
	// Count is the number of messages consumed in the current window
	Count int `json:"count"`

	// ResetAt is when Count resets to zero
	ResetAt time.Time `json:"reset_time"`
}

// QuotaLedger tracks per-user daily message allowances and persists
// them through a ledgerStore after every commit.
//
// Admission and commit are deliberately separate: a message is
// admitted before the (slow) completion call and committed only after
// a reply was produced. Callers must serialize admit-through-commit
// per user (the pipeline's keyed locks do this) so overlapping
// messages from one user can't slip past the limit.
type QuotaLedger struct {
	limit   int
	records map[string]*UserQuotaRecord
	store   *ledgerStore
	logger  *slog.Logger

	// guards records; per-user admit..commit exclusion is the
	// caller's responsibility
	mu sync.Mutex
}

// NewQuotaLedger creates a ledger seeded with the given records
// (normally the result of ledgerStore.Load).
func NewQuotaLedger(
	limit int,
	records map[string]*UserQuotaRecord,
	store *ledgerStore,
	logger *slog.Logger,
) *QuotaLedger {
	if records == nil {
		records = map[string]*UserQuotaRecord{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaLedger{
		limit:   limit,
		records: records,
		store:   store,
		logger:  logger,
	}
}

// Limit returns the configured per-window message allowance.
func (q *QuotaLedger) Limit() int {
	return q.limit
}

// CheckAndAdmit reports whether a new message from userID may proceed.
//
// A missing record is created with a fresh window. A record whose
// window has passed is replaced, not merged. A record at the limit is
// rejected without mutation. Admission never increments the count;
// that happens in Commit, after a reply was produced.
func (q *QuotaLedger) CheckAndAdmit(userID string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[userID]
	switch {
	case !ok:
		q.records[userID] = &UserQuotaRecord{
			Count:   0,
			ResetAt: now.Add(quotaWindow),
		}
		return true
	case !now.Before(rec.ResetAt):
		q.records[userID] = &UserQuotaRecord{
			Count:   0,
			ResetAt: now.Add(quotaWindow),
		}
		return true
	case rec.Count >= q.limit:
		return false
	default:
		return true
	}
}

// Commit increments the user's count and flushes the ledger to disk.
// A flush failure is logged and the in-memory state stays
// authoritative until the next successful flush.
func (q *QuotaLedger) Commit(userID string) error {
	q.mu.Lock()
	rec, ok := q.records[userID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoQuotaRecord, userID)
	}
	rec.Count++
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if q.store != nil {
		if err := q.store.Flush(snapshot); err != nil {
			q.logger.Error(
				"error flushing quota ledger",
				tint.Err(err),
				"user_id", userID,
			)
		}
	}
	return nil
}

// Count returns the user's current in-window count, or zero if the
// user has no record.
func (q *QuotaLedger) Count(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.records[userID]; ok {
		return rec.Count
	}
	return 0
}

// Snapshot returns a copy of all records, for the status API and for
// flushing.
func (q *QuotaLedger) Snapshot() map[string]UserQuotaRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *QuotaLedger) snapshotLocked() map[string]UserQuotaRecord {
	out := make(map[string]UserQuotaRecord, len(q.records))
	for id, rec := range q.records {
		out[id] = *rec
	}
	return out
}

// Flush writes the current ledger to disk outside the commit path
// (used at shutdown).
func (q *QuotaLedger) Flush() error {
	if q.store == nil {
		return nil
	}
	return q.store.Flush(q.Snapshot())
}
