package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(key string) (bool, error) {
	var found string
	err := s.db.QueryRow(`SELECT dedup_key FROM chat_dedup WHERE dedup_key = ?`, key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(key, userID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO chat_dedup (dedup_key, user_id, received_at) VALUES (?, ?, ?)`,
		key, userID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record chat request key failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.RecordInbound: duplicate key", "key", key, "userID", userID)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(key string) error {
	_, err := s.db.Exec(`UPDATE chat_dedup SET processed_at = ? WHERE dedup_key = ?`, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
