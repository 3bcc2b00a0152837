// Package ledger tracks the two timestamps the dead-man's-switch
// monitors evaluate: the last qualifying user activity and the last
// successful credential re-entry. The ledger is the only mutable state
// shared between monitors and app-lifecycle hooks, so updates use a
// lock-free monotonic compare-and-swap: a write carrying an older
// timestamp than the stored value is a no-op.
package ledger

import (
	"sync/atomic"
	"time"
)

// ActivityLedger is a single mutable record per device. Safe for
// concurrent use by any number of writers and readers.
type ActivityLedger struct {
	lastActivity atomic.Int64 // unix nanoseconds, 0 = never recorded
	lastReauth   atomic.Int64
}

// New creates an empty ledger with no recorded activity.
func New() *ActivityLedger {
	return &ActivityLedger{}
}

// RecordActivity advances the last-activity timestamp to t if t is
// newer than the stored value. Returns true if the ledger advanced.
// Generic activity never touches the reauthentication timestamp.
func (l *ActivityLedger) RecordActivity(t time.Time) bool {
	return advance(&l.lastActivity, t)
}

// RecordReauth advances the last-reauthentication timestamp. This is
// the only mutator for that field; it must be called only after an
// explicit, successful credential verification.
func (l *ActivityLedger) RecordReauth(t time.Time) bool {
	return advance(&l.lastReauth, t)
}

// LastActivity returns the most recent recorded activity time, or the
// zero time if none has been recorded.
func (l *ActivityLedger) LastActivity() time.Time {
	return fromNanos(l.lastActivity.Load())
}

// LastReauth returns the most recent successful reauthentication time,
// or the zero time if none has been recorded.
func (l *ActivityLedger) LastReauth() time.Time {
	return fromNanos(l.lastReauth.Load())
}

func advance(field *atomic.Int64, t time.Time) bool {
	if t.IsZero() {
		return false
	}
	nanos := t.UnixNano()
	for {
		cur := field.Load()
		if nanos <= cur {
			return false
		}
		if field.CompareAndSwap(cur, nanos) {
			return true
		}
	}
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
