// Package pending is the PendingQueue: a thin façade over the StateStore's
// non-synchronized pair listing, applying the error back-off mask.
package pending

import (
	"context"
	"time"

	"github.com/driveagent/driveagent/internal/store"
)

// Queue is the PendingQueue described in SPEC_FULL.md §4.7.
type Queue struct {
	store *store.Store
}

// New constructs a Queue.
func New(st *store.Store) *Queue {
	return &Queue{store: st}
}

// ListPending returns non-synchronized pairs, optionally scoped to
// localFolder (empty = all), with rows whose last_sync_error_date is
// within ignoreInError of now excluded. limit <= 0 means unbounded.
func (q *Queue) ListPending(ctx context.Context, limit int, localFolder string, ignoreInError time.Duration) ([]*store.LastKnownState, error) {
	sess, err := q.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.ListPending(ctx, limit, localFolder, ignoreInError, time.Now().UTC())
}

// NextPending returns the first pending row for localFolder, or
// ok == false when there is none.
func (q *Queue) NextPending(ctx context.Context, localFolder string) (state *store.LastKnownState, ok bool, err error) {
	rows, err := q.ListPending(ctx, 1, localFolder, 0)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
