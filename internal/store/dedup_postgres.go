package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IsDuplicate(key string) (bool, error) {
	var found string
	err := s.db.QueryRow(`SELECT dedup_key FROM chat_dedup WHERE dedup_key = $1`, key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RecordInbound(key, userID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO chat_dedup (dedup_key, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (dedup_key) DO NOTHING`,
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
		slog.Debug("PostgresStore.RecordInbound: duplicate key", "key", key, "userID", userID)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(key string) error {
	_, err := s.db.Exec(`UPDATE chat_dedup SET processed_at = $1 WHERE dedup_key = $2`, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
