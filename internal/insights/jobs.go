package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CicekTerapi/internal/scheduler"
	"github.com/BTreeMap/CicekTerapi/internal/store"
	"github.com/robfig/cron/v3"
)

// JobKind is the durable job kind for a scheduled analysis.
const JobKind = "survey_insights"

// DefaultSchedule runs the analysis daily at 03:00.
const DefaultSchedule = "0 3 * * *"

type jobPayload struct {
	UserID string `json:"user_id"`
}

// DedupeKey identifies the analysis of userID for the calendar day of t in
// UTC. While such a job is pending, enqueueing it again is a no-op.
func DedupeKey(userID string, t time.Time) string {
	return JobKind + ":" + userID + ":" + t.UTC().Format("2006-01-02")
}

// JobHandler returns the job runner handler that executes analyses. Users
// without a survey are skipped rather than retried.
func JobHandler(a *Analyzer) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p jobPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", JobKind, err)
		}
		_, err := a.Analyze(ctx, p.UserID)
		if errors.Is(err, ErrNoSurvey) {
			slog.Warn("insights.JobHandler: skipping user without survey", "userID", p.UserID)
			return nil
		}
		return err
	}
}

// EnqueueStore is the persistence the scheduler needs.
type EnqueueStore interface {
	ListSurveyUserIDs(ctx context.Context) ([]string, error)
	EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)
}

// Scheduler enqueues one analysis job per surveyed user on a cron schedule.
type Scheduler struct {
	store EnqueueStore
	spec  string
	cron  *scheduler.Scheduler
	entry cron.EntryID
	now   func() time.Time
}

// NewScheduler validates spec and creates a Scheduler. An empty spec means
// DefaultSchedule.
func NewScheduler(st EnqueueStore, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := scheduler.ParseSpec(spec); err != nil {
		return nil, err
	}
	return &Scheduler{
		store: st,
		spec:  spec,
		cron:  scheduler.NewScheduler(time.UTC),
		now:   time.Now,
	}, nil
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string { return s.spec }

// EnqueueAll queues an analysis for every user with a survey, due at now.
// It returns the number of users processed.
func (s *Scheduler) EnqueueAll(ctx context.Context, now time.Time) (int, error) {
	users, err := s.store.ListSurveyUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list surveyed users: %w", err)
	}
	n := 0
	for _, userID := range users {
		payload, err := json.Marshal(jobPayload{UserID: userID})
		if err != nil {
			return n, err
		}
		if _, err := s.store.EnqueueJob(JobKind, now, string(payload), DedupeKey(userID, now)); err != nil {
			return n, fmt.Errorf("failed to enqueue analysis for %s: %w", userID, err)
		}
		n++
	}
	slog.Info("InsightsScheduler.EnqueueAll: queued analyses", "users", n)
	return n, nil
}

// Start registers the cron entry and starts the schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddJob(JobKind, s.spec, func() {
		if _, err := s.EnqueueAll(ctx, s.now()); err != nil {
			slog.Error("InsightsScheduler: enqueue failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.entry = id
	s.cron.Start()
	slog.Info("InsightsScheduler.Start: scheduled survey analysis", "spec", s.spec, "next", s.cron.Next(id))
	return nil
}

// Stop stops the schedule, waiting for an in-progress enqueue until ctx
// expires.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cron.Stop(ctx)
}
