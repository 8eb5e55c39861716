package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists to PostgreSQL through lib/pq.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSurvey(ctx context.Context, rec models.SurveyRecord) (models.SurveyRecord, error) {
	challenges, err := encodeList(rec.DailyLifeChallenges)
	if err != nil {
		return rec, err
	}
	barriers, err := encodeList(rec.HelpSeekingBarriers)
	if err != nil {
		return rec, err
	}
	now := time.Now().UTC()
	var createdAt, updatedAt time.Time
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO surveys (user_id, health_status, daily_life_challenges, help_seeking_barriers, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   health_status = EXCLUDED.health_status,
		   daily_life_challenges = EXCLUDED.daily_life_challenges,
		   help_seeking_barriers = EXCLUDED.help_seeking_barriers,
		   notes = EXCLUDED.notes,
		   updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at`,
		rec.UserID, rec.HealthStatus, challenges, barriers, rec.Notes, now,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveSurvey failed", "error", err, "userID", rec.UserID)
		return rec, fmt.Errorf("failed to save survey for %s: %w", rec.UserID, err)
	}
	rec.CreatedAt, rec.UpdatedAt = createdAt, updatedAt
	rec.DailyLifeChallenges = cloneStrings(rec.DailyLifeChallenges)
	rec.HelpSeekingBarriers = cloneStrings(rec.HelpSeekingBarriers)
	slog.Debug("PostgresStore.SaveSurvey succeeded", "userID", rec.UserID)
	return rec, nil
}

func (s *PostgresStore) GetSurvey(ctx context.Context, userID string) (*models.SurveyRecord, error) {
	var rec models.SurveyRecord
	var challenges, barriers string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, health_status, daily_life_challenges, help_seeking_barriers, notes, created_at, updated_at
		 FROM surveys WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.HealthStatus, &challenges, &barriers, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetSurvey failed", "error", err, "userID", userID)
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

func (s *PostgresStore) ListSurveyUserIDs(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT user_id FROM surveys ORDER BY user_id`)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, error) {
	msg.CreatedAt = time.Now().UTC()
	msg.ID = util.NewULID(msg.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, sender, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.UserID, string(msg.Sender), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AppendMessage failed", "error", err, "userID", msg.UserID)
		return msg, fmt.Errorf("failed to append message for %s: %w", msg.UserID, err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	query := `SELECT id, user_id, sender, content, created_at FROM messages WHERE user_id = $1 ORDER BY seq ASC`
	args := []any{userID}
	if limit > 0 {
		query = `SELECT id, user_id, sender, content, created_at FROM (
		           SELECT seq, id, user_id, sender, content, created_at FROM messages
		           WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
		         ) recent ORDER BY seq ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore.ListMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) AddInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	if ins.ID == "" {
		ins.ID = util.GenerateInsightID()
	}
	ins.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (id, user_id, source, psychological_insights, suggested_support, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ins.ID, ins.UserID, string(ins.Source), ins.PsychologicalInsights, ins.SuggestedSupport, ins.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddInsight failed", "error", err, "userID", ins.UserID)
		return ins, fmt.Errorf("failed to insert insight for %s: %w", ins.UserID, err)
	}
	return ins, nil
}

func (s *PostgresStore) ListInsights(ctx context.Context, userID string, limit int) ([]models.Insight, error) {
	query := `SELECT id, user_id, source, psychological_insights, suggested_support, created_at
	          FROM insights WHERE user_id = $1 ORDER BY seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore.ListInsights query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
