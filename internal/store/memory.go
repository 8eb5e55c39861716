package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/util"
)

// InMemoryStore keeps everything in process memory. It is used when no DSN
// is configured and in tests; nothing survives a restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	surveys  map[string]models.SurveyRecord
	messages map[string][]models.ConversationMessage
	insights map[string][]models.Insight
	jobs     map[string]*Job
	dedup    map[string]*DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		surveys:  make(map[string]models.SurveyRecord),
		messages: make(map[string][]models.ConversationMessage),
		insights: make(map[string][]models.Insight),
		jobs:     make(map[string]*Job),
		dedup:    make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) SaveSurvey(ctx context.Context, rec models.SurveyRecord) (models.SurveyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rec.CreatedAt = now
	if prev, ok := s.surveys[rec.UserID]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	rec.UpdatedAt = now
	rec.DailyLifeChallenges = cloneStrings(rec.DailyLifeChallenges)
	rec.HelpSeekingBarriers = cloneStrings(rec.HelpSeekingBarriers)
	s.surveys[rec.UserID] = rec
	slog.Debug("InMemoryStore.SaveSurvey: saved", "userID", rec.UserID)
	return rec, nil
}

func (s *InMemoryStore) GetSurvey(ctx context.Context, userID string) (*models.SurveyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.surveys[userID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.DailyLifeChallenges = cloneStrings(rec.DailyLifeChallenges)
	rec.HelpSeekingBarriers = cloneStrings(rec.HelpSeekingBarriers)
	return &rec, nil
}

func (s *InMemoryStore) ListSurveyUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.surveys))
	for id := range s.surveys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.CreatedAt = time.Now().UTC()
	if prev := s.messages[msg.UserID]; len(prev) > 0 {
		if last := prev[len(prev)-1].CreatedAt; msg.CreatedAt.Before(last) {
			msg.CreatedAt = last
		}
	}
	msg.ID = util.NewULID(msg.CreatedAt)
	s.messages[msg.UserID] = append(s.messages[msg.UserID], msg)
	return msg, nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[userID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ConversationMessage(nil), msgs...), nil
}

func (s *InMemoryStore) AddInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ins.ID == "" {
		ins.ID = util.GenerateInsightID()
	}
	ins.CreatedAt = time.Now().UTC()
	s.insights[ins.UserID] = append(s.insights[ins.UserID], ins)
	return ins, nil
}

func (s *InMemoryStore) ListInsights(ctx context.Context, userID string, limit int) ([]models.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.insights[userID]
	out := make([]models.Insight, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
