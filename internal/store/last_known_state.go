package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driveagent/driveagent/internal/ctlerr"
)

func scanState(scan func(dest ...any) error) (*LastKnownState, error) {
	var s LastKnownState
	var localPath, remoteRef, localParentPath, remoteParentRef sql.NullString
	var lastErr sql.NullTime
	var folderish int

	if err := scan(&s.ID, &s.LocalFolder, &localPath, &remoteRef, &localParentPath, &remoteParentRef,
		&s.LocalName, &s.RemoteName, &s.RemoteParentPath, &folderish,
		&s.LocalState, &s.RemoteState, &s.PairState, &lastErr); err != nil {
		return nil, err
	}

	if localPath.Valid {
		s.LocalPath = &localPath.String
	}
	if remoteRef.Valid {
		s.RemoteRef = &remoteRef.String
	}
	if localParentPath.Valid {
		s.LocalParentPath = &localParentPath.String
	}
	if remoteParentRef.Valid {
		s.RemoteParentRef = &remoteParentRef.String
	}
	s.Folderish = folderish != 0
	if lastErr.Valid {
		s.LastSyncErrorDate = &lastErr.Time
	}
	return &s, nil
}

const stateColumns = `
	id, local_folder, local_path, remote_ref, local_parent_path, remote_parent_ref,
	local_name, remote_name, remote_parent_path, folderish,
	local_state, remote_state, pair_state, last_sync_error_date
`

// InsertToplevel creates the root pair for a freshly bound server, both
// sides marked synchronized, atomically with the binding row's own insert
// (caller commits both in the same session/transaction).
func (sess *Session) InsertToplevel(ctx context.Context, localFolder, remoteRef string) (*LastKnownState, error) {
	root := "/"
	res, err := sess.exec(ctx, `
		INSERT INTO last_known_states (
			local_folder, local_path, remote_ref, local_parent_path, remote_parent_ref,
			local_name, remote_name, remote_parent_path, folderish, local_state, remote_state, pair_state
		) VALUES (?, ?, ?, NULL, NULL, '', '', '', 1, ?, ?, ?)
	`, localFolder, root, remoteRef, SideSynchronized, SideSynchronized, PairSynchronized)
	if err != nil {
		return nil, fmt.Errorf("store.InsertToplevel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return sess.GetStateByID(ctx, id)
}

// InsertState records one observed document pair. It is the write path the
// Synchronizer (external) uses as it discovers new local or remote
// entries; the core only reads through the other accessors here.
func (sess *Session) InsertState(ctx context.Context, s *LastKnownState) (*LastKnownState, error) {
	if s.LocalPath == nil && s.RemoteRef == nil {
		return nil, ctlerr.New(ctlerr.IllegalPairState, "store.InsertState",
			fmt.Errorf("pair has neither local_path nor remote_ref"))
	}

	res, err := sess.exec(ctx, `
		INSERT INTO last_known_states (
			local_folder, local_path, remote_ref, local_parent_path, remote_parent_ref,
			local_name, remote_name, remote_parent_path, folderish, local_state, remote_state, pair_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.LocalFolder, s.LocalPath, s.RemoteRef, s.LocalParentPath, s.RemoteParentRef,
		s.LocalName, s.RemoteName, s.RemoteParentPath, boolToInt(s.Folderish), s.LocalState, s.RemoteState, s.PairState)
	if err != nil {
		return nil, fmt.Errorf("store.InsertState: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return sess.GetStateByID(ctx, id)
}

func (sess *Session) GetStateByID(ctx context.Context, id int64) (*LastKnownState, error) {
	row := sess.queryRow(ctx, `SELECT `+stateColumns+` FROM last_known_states WHERE id = ?`, id)
	s, err := scanState(row.Scan)
	if err != nil {
		return nil, wrapNotFound("store.GetStateByID", err)
	}
	return s, nil
}

// GetStateByLocalPath resolves the pair rooted at a binding's local_path
// (StateNavigator uses "/" to resolve the toplevel folder state).
func (sess *Session) GetStateByLocalPath(ctx context.Context, localFolder, localPath string) (*LastKnownState, error) {
	row := sess.queryRow(ctx, `SELECT `+stateColumns+` FROM last_known_states WHERE local_folder = ? AND local_path = ?`,
		localFolder, localPath)
	s, err := scanState(row.Scan)
	if err != nil {
		return nil, wrapNotFound("store.GetStateByLocalPath", err)
	}
	return s, nil
}

// GetStateByRemoteRefAndServer resolves a pair by remote_ref scoped to the
// binding whose server_url matches, for LaunchFileEditor.
func (sess *Session) GetStateByRemoteRefAndServer(ctx context.Context, serverURL, remoteRef string) (*LastKnownState, error) {
	row := sess.queryRow(ctx, `
		SELECT `+stateColumns+` FROM last_known_states lks
		JOIN server_bindings sb ON sb.local_folder = lks.local_folder
		WHERE sb.server_url = ? AND lks.remote_ref = ?
	`, serverURL, remoteRef)
	s, err := scanState(row.Scan)
	if err != nil {
		return nil, wrapNotFound("store.GetStateByRemoteRefAndServer", err)
	}
	return s, nil
}

// ChildrenOf returns the descendants of a folderish pair per the recursive
// aggregation filter: both sides known matches on local_parent_path OR
// remote_parent_ref, only-local matches on local_parent_path alone,
// only-remote on remote_parent_ref alone. Ordered by local_name, remote_name.
func (sess *Session) ChildrenOf(ctx context.Context, localFolder string, localPath, remoteRef *string) ([]*LastKnownState, error) {
	var rows *sql.Rows
	var err error
	switch {
	case localPath != nil && remoteRef != nil:
		rows, err = sess.query(ctx, `
			SELECT `+stateColumns+` FROM last_known_states
			WHERE local_folder = ? AND (local_parent_path = ? OR remote_parent_ref = ?)
			ORDER BY local_name ASC, remote_name ASC
		`, localFolder, *localPath, *remoteRef)
	case localPath != nil:
		rows, err = sess.query(ctx, `
			SELECT `+stateColumns+` FROM last_known_states
			WHERE local_folder = ? AND local_parent_path = ?
			ORDER BY local_name ASC, remote_name ASC
		`, localFolder, *localPath)
	case remoteRef != nil:
		rows, err = sess.query(ctx, `
			SELECT `+stateColumns+` FROM last_known_states
			WHERE local_folder = ? AND remote_parent_ref = ?
			ORDER BY local_name ASC, remote_name ASC
		`, localFolder, *remoteRef)
	default:
		return nil, ctlerr.New(ctlerr.IllegalPairState, "store.ChildrenOf",
			fmt.Errorf("pair has neither local_path nor remote_ref"))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LastKnownState
	for rows.Next() {
		s, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPending returns non-synchronized pairs, optionally scoped to a local
// folder, with the back-off mask applied, ordered parents-before-children.
func (sess *Session) ListPending(ctx context.Context, limit int, localFolder string, ignoreInError time.Duration, now time.Time) ([]*LastKnownState, error) {
	query := `SELECT ` + stateColumns + ` FROM last_known_states WHERE pair_state != ?`
	args := []any{PairSynchronized}

	if localFolder != "" {
		query += ` AND local_folder = ?`
		args = append(args, localFolder)
	}
	if ignoreInError > 0 {
		query += ` AND (last_sync_error_date IS NULL OR last_sync_error_date < ?)`
		args = append(args, now.Add(-ignoreInError))
	}
	query += ` ORDER BY remote_parent_path ASC, remote_name ASC, remote_ref ASC, local_path ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := sess.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LastKnownState
	for rows.Next() {
		s, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (sess *Session) DeleteState(ctx context.Context, id int64) error {
	_, err := sess.exec(ctx, `DELETE FROM last_known_states WHERE id = ?`, id)
	return err
}
