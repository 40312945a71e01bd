package pending

import (
	"context"
	"testing"
	"time"

	"github.com/driveagent/driveagent/internal/store"
)

func setupQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil, false)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

// TestListPendingOrdering covers invariant 6: rows share remote_parent_path
// come back ordered by remote_name ascending.
func TestListPendingOrdering(t *testing.T) {
	q, st := setupQueue(t)
	ctx := context.Background()

	sess, err := st.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	for _, name := range []string{"zeta.txt", "alpha.txt", "mu.txt"} {
		ref := name + "-ref"
		path := "/" + name
		if _, err := sess.InsertState(ctx, &store.LastKnownState{
			LocalFolder: "/drive", LocalPath: &path, RemoteRef: &ref,
			LocalName: name, RemoteName: name, RemoteParentPath: "/",
			LocalState: store.SideCreated, RemoteState: store.SideUnknown, PairState: store.PairLocallyCreated,
		}); err != nil {
			t.Fatalf("InsertState failed: %v", err)
		}
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	rows, err := q.ListPending(ctx, 0, "", 0)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].RemoteName > rows[i].RemoteName {
			t.Fatalf("rows out of order: %q before %q", rows[i-1].RemoteName, rows[i].RemoteName)
		}
	}
}

func TestListPendingBackoffMaskKeepsErrorlessRows(t *testing.T) {
	q, st := setupQueue(t)
	ctx := context.Background()

	sess, err := st.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	path := "/recent.txt"
	ref := "recent-ref"
	if _, err := sess.InsertState(ctx, &store.LastKnownState{
		LocalFolder: "/drive", LocalPath: &path, RemoteRef: &ref,
		LocalName: "recent.txt", RemoteName: "recent.txt", RemoteParentPath: "/",
		LocalState: store.SideModified, RemoteState: store.SideSynchronized, PairState: store.PairLocallyModified,
	}); err != nil {
		t.Fatalf("InsertState failed: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	rows, err := q.ListPending(ctx, 0, "", time.Hour)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	// last_sync_error_date is NULL, so the back-off mask must not hide it.
	if len(rows) != 1 {
		t.Fatalf("expected the errorless pending row to still show through the mask, got %d rows", len(rows))
	}
}
