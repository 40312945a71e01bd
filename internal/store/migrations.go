package store

import (
	"context"
	"fmt"

	"github.com/driveagent/driveagent/internal/ctlerr"
)

// currentSchemaVersion is the schema this binary knows how to read. Opening
// a store stamped with a newer version is refused outright; opening one
// stamped with an older version applies the missing migrations in order.
const currentSchemaVersion = 1

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)
	`); err != nil {
		return ctlerr.Wrap(ctlerr.SchemaError, "store.migrate", err)
	}

	version, err := s.readSchemaVersion(ctx)
	if err != nil {
		return ctlerr.Wrap(ctlerr.SchemaError, "store.migrate", err)
	}

	if version > currentSchemaVersion {
		return ctlerr.New(ctlerr.SchemaError, "store.migrate",
			fmt.Errorf("store schema version %d is newer than this binary supports (%d)", version, currentSchemaVersion))
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		migration, ok := migrations[v]
		if !ok {
			return ctlerr.New(ctlerr.SchemaError, "store.migrate", fmt.Errorf("missing migration for version %d", v))
		}
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return ctlerr.Wrap(ctlerr.SchemaError, "store.migrate", fmt.Errorf("applying migration %d: %w", v, err))
		}
		if err := s.stampSchemaVersion(ctx, v); err != nil {
			return ctlerr.Wrap(ctlerr.SchemaError, "store.migrate", err)
		}
	}
	return nil
}

func (s *Store) readSchemaVersion(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta WHERE id = 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (s *Store) stampSchemaVersion(ctx context.Context, v int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_meta (id, version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version
	`, v)
	return err
}

var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS device_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			device_id TEXT NOT NULL,
			proxy_config TEXT NOT NULL DEFAULT 'none',
			proxy_type TEXT NOT NULL DEFAULT 'http',
			proxy_server TEXT NOT NULL DEFAULT '',
			proxy_port INTEGER NOT NULL DEFAULT 0,
			proxy_username TEXT NOT NULL DEFAULT '',
			proxy_password TEXT,
			proxy_password_plain TEXT,
			proxy_authenticated INTEGER NOT NULL DEFAULT 0,
			proxy_exceptions TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS server_bindings (
			local_folder TEXT PRIMARY KEY,
			server_url TEXT NOT NULL,
			remote_user TEXT NOT NULL,
			remote_password TEXT,
			remote_token TEXT,
			invalid_credentials INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS last_known_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			local_folder TEXT NOT NULL REFERENCES server_bindings(local_folder) ON DELETE CASCADE,
			local_path TEXT,
			remote_ref TEXT,
			local_parent_path TEXT,
			remote_parent_ref TEXT,
			local_name TEXT NOT NULL DEFAULT '',
			remote_name TEXT NOT NULL DEFAULT '',
			remote_parent_path TEXT NOT NULL DEFAULT '',
			folderish INTEGER NOT NULL DEFAULT 0,
			local_state TEXT NOT NULL DEFAULT 'unknown',
			remote_state TEXT NOT NULL DEFAULT 'unknown',
			pair_state TEXT NOT NULL DEFAULT 'unknown',
			last_sync_error_date TEXT,
			UNIQUE (local_folder, local_path),
			UNIQUE (local_folder, remote_ref)
		);

		CREATE INDEX IF NOT EXISTS idx_lks_parent_local ON last_known_states (local_folder, local_parent_path);
		CREATE INDEX IF NOT EXISTS idx_lks_parent_remote ON last_known_states (local_folder, remote_parent_ref);
		CREATE INDEX IF NOT EXISTS idx_lks_pending ON last_known_states (pair_state);
	`,
}
