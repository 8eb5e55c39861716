// Package insights infers a user's psychological state from their survey and
// recent conversation, on demand and on a daily schedule.
package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CicekTerapi/internal/flow"
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/store"
)

// DefaultHistoryLimit is how many recent messages an analysis considers.
const DefaultHistoryLimit = 50

// ErrNoSurvey is returned when the user has not completed the survey.
var ErrNoSurvey = errors.New("user has no survey")

// Store is the persistence the analyzer needs.
type Store interface {
	store.SurveyRepo
	store.MessageRepo
	store.InsightRepo
}

// Analyzer runs the survey insight flow for one user at a time.
type Analyzer struct {
	store        Store
	flow         *flow.Flow[flow.SurveyInsightsInput, flow.SurveyInsightsOutput]
	historyLimit int
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithHistoryLimit sets how many recent messages are analyzed.
func WithHistoryLimit(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(st Store, flows *flow.Set, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{store: st, flow: flows.SurveyInsights, historyLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze infers and stores a survey_analysis insight for userID.
func (a *Analyzer) Analyze(ctx context.Context, userID string) (*models.Insight, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	survey, err := a.store.GetSurvey(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSurvey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load survey: %w", err)
	}
	msgs, err := a.store.ListMessages(ctx, userID, a.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	out, err := a.flow.Run(ctx, BuildInput(survey, msgs))
	if err != nil {
		slog.Error("Analyzer.Analyze: survey insight flow failed", "userID", userID, "kind", flow.ErrorKind(err), "error", err)
		return nil, err
	}

	ins, err := a.store.AddInsight(ctx, models.Insight{
		UserID:                userID,
		Source:                models.InsightSourceSurveyAnalysis,
		PsychologicalInsights: out.PsychologicalInsights,
		SuggestedSupport:      out.SuggestedSupport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store insight: %w", err)
	}
	slog.Info("Analyzer.Analyze: stored insight", "userID", userID, "insightID", ins.ID, "messages", len(msgs))
	return &ins, nil
}

// BuildInput converts a survey and messages into the flow input. List
// answers are joined with ", ".
func BuildInput(survey *models.SurveyRecord, msgs []models.ConversationMessage) flow.SurveyInsightsInput {
	past := make([]flow.PastMessage, 0, len(msgs))
	for _, m := range msgs {
		past = append(past, flow.PastMessage{Sender: m.Sender, Content: m.Content})
	}
	return flow.SurveyInsightsInput{
		SurveyData: flow.SurveySnapshot{
			HealthStatus:        survey.HealthStatus,
			DailyLifeChallenges: strings.Join(survey.DailyLifeChallenges, ", "),
			HelpSeekingBarriers: strings.Join(survey.HelpSeekingBarriers, ", "),
		},
		PastMessages: past,
	}
}
