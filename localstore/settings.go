// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Settings live in their own string-keyed table so preferences and cached
// backend configuration survive restarts without going through the
// mirrored-table machinery.

// GetSetting returns the value stored under key, with ok=false when the
// key has never been set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load setting %q: %w", key, err)
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing any previous value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	now := s.now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to store setting %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. Deleting an absent key is a no-op.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// GetSettingFloat parses the setting as a float. Absent or unparseable
// values report ok=false.
func (s *Store) GetSettingFloat(ctx context.Context, key string) (float64, bool, error) {
	raw, ok, err := s.GetSetting(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	f, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return 0, false, nil
	}
	return f, true, nil
}

// PutSettingFloat stores a float setting.
func (s *Store) PutSettingFloat(ctx context.Context, key string, value float64) error {
	return s.PutSetting(ctx, key, strconv.FormatFloat(value, 'f', -1, 64))
}
