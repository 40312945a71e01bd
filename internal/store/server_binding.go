package store

import (
	"context"
	"database/sql"

	"github.com/driveagent/driveagent/internal/ctlerr"
)

func (sess *Session) GetBinding(ctx context.Context, localFolder string) (*ServerBinding, error) {
	row := sess.queryRow(ctx, `
		SELECT local_folder, server_url, remote_user, remote_password, remote_token, invalid_credentials
		FROM server_bindings WHERE local_folder = ?
	`, localFolder)
	return scanBinding(row)
}

func scanBinding(row *sql.Row) (*ServerBinding, error) {
	var b ServerBinding
	var password, token sql.NullString
	var invalid int
	if err := row.Scan(&b.LocalFolder, &b.ServerURL, &b.RemoteUser, &password, &token, &invalid); err != nil {
		return nil, wrapNotFound("store.GetBinding", err)
	}
	if password.Valid {
		b.RemotePassword = &password.String
	}
	if token.Valid {
		b.RemoteToken = &token.String
	}
	b.InvalidCredentials = invalid != 0
	return &b, nil
}

// ListBindings returns every ServerBinding row, ordered by local_folder for
// deterministic iteration (used by UnbindAll and ExportBindings).
func (sess *Session) ListBindings(ctx context.Context) ([]*ServerBinding, error) {
	rows, err := sess.query(ctx, `
		SELECT local_folder, server_url, remote_user, remote_password, remote_token, invalid_credentials
		FROM server_bindings ORDER BY local_folder ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ServerBinding
	for rows.Next() {
		var b ServerBinding
		var password, token sql.NullString
		var invalid int
		if err := rows.Scan(&b.LocalFolder, &b.ServerURL, &b.RemoteUser, &password, &token, &invalid); err != nil {
			return nil, err
		}
		if password.Valid {
			b.RemotePassword = &password.String
		}
		if token.Valid {
			b.RemoteToken = &token.String
		}
		b.InvalidCredentials = invalid != 0
		out = append(out, &b)
	}
	return out, rows.Err()
}

// BindingsForServerURL returns every binding whose server URL matches.
func (sess *Session) BindingsForServerURL(ctx context.Context, serverURL string) ([]*ServerBinding, error) {
	rows, err := sess.query(ctx, `
		SELECT local_folder, server_url, remote_user, remote_password, remote_token, invalid_credentials
		FROM server_bindings WHERE server_url = ?
	`, serverURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ServerBinding
	for rows.Next() {
		var b ServerBinding
		var password, token sql.NullString
		var invalid int
		if err := rows.Scan(&b.LocalFolder, &b.ServerURL, &b.RemoteUser, &password, &token, &invalid); err != nil {
			return nil, err
		}
		if password.Valid {
			b.RemotePassword = &password.String
		}
		if token.Valid {
			b.RemoteToken = &token.String
		}
		b.InvalidCredentials = invalid != 0
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (sess *Session) InsertBinding(ctx context.Context, b *ServerBinding) error {
	_, err := sess.exec(ctx, `
		INSERT INTO server_bindings (local_folder, server_url, remote_user, remote_password, remote_token, invalid_credentials)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.LocalFolder, b.ServerURL, b.RemoteUser, b.RemotePassword, b.RemoteToken, boolToInt(b.InvalidCredentials))
	if err != nil {
		return ctlerr.Wrap(ctlerr.SchemaError, "store.InsertBinding", err)
	}
	return nil
}

func (sess *Session) UpdateBindingCredentials(ctx context.Context, localFolder string, password, token *string) error {
	_, err := sess.exec(ctx, `
		UPDATE server_bindings SET remote_password = ?, remote_token = ?, invalid_credentials = 0
		WHERE local_folder = ?
	`, password, token, localFolder)
	return err
}

func (sess *Session) MarkBindingInvalidCredentials(ctx context.Context, localFolder string, invalid bool) error {
	_, err := sess.exec(ctx, `UPDATE server_bindings SET invalid_credentials = ? WHERE local_folder = ?`,
		boolToInt(invalid), localFolder)
	return err
}

func (sess *Session) DeleteBinding(ctx context.Context, localFolder string) error {
	_, err := sess.exec(ctx, `DELETE FROM server_bindings WHERE local_folder = ?`, localFolder)
	return err
}
