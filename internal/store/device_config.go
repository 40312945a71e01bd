package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// GetDeviceConfig returns the singleton DeviceConfig row, creating it with a
// freshly generated device_id on first read.
func (sess *Session) GetDeviceConfig(ctx context.Context) (*DeviceConfig, error) {
	row := sess.queryRow(ctx, `
		SELECT device_id, proxy_config, proxy_type, proxy_server, proxy_port,
		       proxy_username, proxy_password, proxy_password_plain,
		       proxy_authenticated, proxy_exceptions
		FROM device_config WHERE id = 1
	`)

	var dc DeviceConfig
	var proxyPassword, proxyPasswordPlain sql.NullString
	var authenticated int
	err := row.Scan(&dc.DeviceID, &dc.ProxyConfig, &dc.ProxyType, &dc.ProxyServer, &dc.ProxyPort,
		&dc.ProxyUsername, &proxyPassword, &proxyPasswordPlain, &authenticated, &dc.ProxyExceptions)

	switch err {
	case nil:
		dc.ProxyPassword = proxyPassword.String
		dc.ProxyPasswordPlain = proxyPasswordPlain.String
		dc.ProxyAuthenticated = authenticated != 0
		return &dc, nil
	case sql.ErrNoRows:
		dc = DeviceConfig{
			DeviceID:    uuid.NewString(),
			ProxyConfig: ProxyNone,
			ProxyType:   ProxyHTTP,
		}
		if err := sess.insertDeviceConfig(ctx, &dc); err != nil {
			return nil, fmt.Errorf("store.GetDeviceConfig: creating singleton row: %w", err)
		}
		return &dc, nil
	default:
		return nil, fmt.Errorf("store.GetDeviceConfig: %w", err)
	}
}

func (sess *Session) insertDeviceConfig(ctx context.Context, dc *DeviceConfig) error {
	_, err := sess.exec(ctx, `
		INSERT INTO device_config (
			id, device_id, proxy_config, proxy_type, proxy_server, proxy_port,
			proxy_username, proxy_password, proxy_password_plain, proxy_authenticated, proxy_exceptions
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dc.DeviceID, dc.ProxyConfig, dc.ProxyType, dc.ProxyServer, dc.ProxyPort,
		dc.ProxyUsername, nullIfEmpty(dc.ProxyPassword), nullIfEmpty(dc.ProxyPasswordPlain),
		boolToInt(dc.ProxyAuthenticated), dc.ProxyExceptions)
	return err
}

// SaveDeviceConfig persists the full DeviceConfig row (used by
// SetProxySettings; the device_id itself is immutable after creation).
func (sess *Session) SaveDeviceConfig(ctx context.Context, dc *DeviceConfig) error {
	_, err := sess.exec(ctx, `
		UPDATE device_config SET
			proxy_config = ?, proxy_type = ?, proxy_server = ?, proxy_port = ?,
			proxy_username = ?, proxy_password = ?, proxy_password_plain = ?,
			proxy_authenticated = ?, proxy_exceptions = ?
		WHERE id = 1
	`, dc.ProxyConfig, dc.ProxyType, dc.ProxyServer, dc.ProxyPort,
		dc.ProxyUsername, nullIfEmpty(dc.ProxyPassword), nullIfEmpty(dc.ProxyPasswordPlain),
		boolToInt(dc.ProxyAuthenticated), dc.ProxyExceptions)
	if err != nil {
		return fmt.Errorf("store.SaveDeviceConfig: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
