// Package store provides the document store behind the support service:
// surveys keyed by user, append-only conversation messages, insight records,
// durable jobs and chat request deduplication.
//
// Three backends implement Store: InMemoryStore, SQLiteStore and
// PostgresStore. The backend is chosen from the DSN with DetectDSNType.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/CicekTerapi/internal/models"
)

// ErrNotFound is returned by lookups for records that do not exist.
var ErrNotFound = errors.New("record not found")

// SurveyRepo stores one survey per user.
type SurveyRepo interface {
	// SaveSurvey creates or replaces the survey for rec.UserID. CreatedAt is
	// kept from the first submission.
	SaveSurvey(ctx context.Context, rec models.SurveyRecord) (models.SurveyRecord, error)
	// GetSurvey returns ErrNotFound when the user has no survey.
	GetSurvey(ctx context.Context, userID string) (*models.SurveyRecord, error)
	// ListSurveyUserIDs returns the users that have completed the survey.
	ListSurveyUserIDs(ctx context.Context) ([]string, error)
}

// MessageRepo stores the per-user conversation.
type MessageRepo interface {
	// AppendMessage assigns the message ID and timestamp and appends it to
	// the user's conversation.
	AppendMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, error)
	// ListMessages returns the user's messages in insertion order. A positive
	// limit keeps only the most recent limit messages.
	ListMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error)
}

// InsightRepo stores inferred insights.
type InsightRepo interface {
	AddInsight(ctx context.Context, ins models.Insight) (models.Insight, error)
	// ListInsights returns the user's insights, newest first. A positive
	// limit caps the result.
	ListInsights(ctx context.Context, userID string, limit int) ([]models.Insight, error)
}

// Store is implemented by every backend.
type Store interface {
	SurveyRepo
	MessageRepo
	InsightRepo
	JobRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or key/value
// connection strings and "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite"
}

// Open creates the backend selected by dsn. An empty dsn yields an
// InMemoryStore.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return s, nil
}
