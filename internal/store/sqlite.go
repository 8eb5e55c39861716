package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists to a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer at a time; a single connection avoids
	// "database is locked" errors between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSurvey(ctx context.Context, rec models.SurveyRecord) (models.SurveyRecord, error) {
	challenges, err := encodeList(rec.DailyLifeChallenges)
	if err != nil {
		return rec, err
	}
	barriers, err := encodeList(rec.HelpSeekingBarriers)
	if err != nil {
		return rec, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO surveys (user_id, health_status, daily_life_challenges, help_seeking_barriers, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   health_status = excluded.health_status,
		   daily_life_challenges = excluded.daily_life_challenges,
		   help_seeking_barriers = excluded.help_seeking_barriers,
		   notes = excluded.notes,
		   updated_at = excluded.updated_at`,
		rec.UserID, rec.HealthStatus, challenges, barriers, rec.Notes, now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveSurvey failed", "error", err, "userID", rec.UserID)
		return rec, fmt.Errorf("failed to save survey for %s: %w", rec.UserID, err)
	}
	saved, err := s.GetSurvey(ctx, rec.UserID)
	if err != nil {
		return rec, err
	}
	slog.Debug("SQLiteStore.SaveSurvey succeeded", "userID", rec.UserID)
	return *saved, nil
}

func (s *SQLiteStore) GetSurvey(ctx context.Context, userID string) (*models.SurveyRecord, error) {
	var rec models.SurveyRecord
	var challenges, barriers string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, health_status, daily_life_challenges, help_seeking_barriers, notes, created_at, updated_at
		 FROM surveys WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.HealthStatus, &challenges, &barriers, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSurvey failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get survey for %s: %w", userID, err)
	}
	if rec.DailyLifeChallenges, err = decodeList(challenges); err != nil {
		return nil, err
	}
	if rec.HelpSeekingBarriers, err = decodeList(barriers); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListSurveyUserIDs(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT user_id FROM surveys ORDER BY user_id`)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, error) {
	msg.CreatedAt = time.Now().UTC()
	msg.ID = util.NewULID(msg.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, string(msg.Sender), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AppendMessage failed", "error", err, "userID", msg.UserID)
		return msg, fmt.Errorf("failed to append message for %s: %w", msg.UserID, err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	query := `SELECT id, user_id, sender, content, created_at FROM messages WHERE user_id = ? ORDER BY seq ASC`
	args := []any{userID}
	if limit > 0 {
		query = `SELECT id, user_id, sender, content, created_at FROM (
		           SELECT seq, id, user_id, sender, content, created_at FROM messages
		           WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		         ) ORDER BY seq ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore.ListMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) AddInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	if ins.ID == "" {
		ins.ID = util.GenerateInsightID()
	}
	ins.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (id, user_id, source, psychological_insights, suggested_support, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ins.ID, ins.UserID, string(ins.Source), ins.PsychologicalInsights, ins.SuggestedSupport, ins.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AddInsight failed", "error", err, "userID", ins.UserID)
		return ins, fmt.Errorf("failed to insert insight for %s: %w", ins.UserID, err)
	}
	return ins, nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context, userID string, limit int) ([]models.Insight, error) {
	query := `SELECT id, user_id, source, psychological_insights, suggested_support, created_at
	          FROM insights WHERE user_id = ? ORDER BY seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore.ListInsights query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
