// Package chat runs one support chat turn: it records the user's message,
// assembles the conversation and survey into the support reply flow, and
// records the assistant's reply or a fixed apology when the flow fails.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/CicekTerapi/internal/flow"
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/prompt"
	"github.com/BTreeMap/CicekTerapi/internal/store"
)

// FallbackReply is stored as the assistant's reply whenever a turn fails.
const FallbackReply = "Sorry, I'm having some trouble right now. Please try again later."

// NoSurveyData stands in for the survey when the user has none.
const NoSurveyData = "No survey data available."

var (
	// ErrEmptyMessage rejects blank message content.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrBusy rejects a turn while another turn for the same user is running.
	ErrBusy = errors.New("a reply is already being generated for this user")
	// ErrDuplicateRequest rejects a repeated request key.
	ErrDuplicateRequest = errors.New("chat request already received")
)

// Store is the persistence the chat service needs.
type Store interface {
	store.SurveyRepo
	store.MessageRepo
	store.InsightRepo
	store.DedupRepo
}

// Turn is the outcome of one SendMessage call.
type Turn struct {
	UserMessage models.ConversationMessage `json:"userMessage"`
	Reply       models.ConversationMessage `json:"reply"`
	Insight     *models.Insight            `json:"insight,omitempty"`
	// Fallback is true when Reply is FallbackReply; ErrorKind then names the
	// flow failure.
	Fallback  bool   `json:"fallback"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// Service runs chat turns. It is safe for concurrent use; turns for the same
// user are rejected with ErrBusy while one is in flight.
type Service struct {
	store Store
	flows *flow.Set

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService creates a chat service.
func NewService(st Store, flows *flow.Set) *Service {
	return &Service{
		store:    st,
		flows:    flows,
		inFlight: make(map[string]struct{}),
	}
}

// SendMessage runs one chat turn for userID.
func (s *Service) SendMessage(ctx context.Context, userID, content string) (*Turn, error) {
	return s.SendMessageWithKey(ctx, userID, "", content)
}

// SendMessageWithKey runs one chat turn. A non-empty requestKey makes the
// call idempotent: once a turn with that key has stored the user's message,
// the key is rejected with ErrDuplicateRequest. A turn that fails before
// that point can be retried with the same key.
func (s *Service) SendMessageWithKey(ctx context.Context, userID, requestKey, content string) (*Turn, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > models.MaxMessageLength {
		return nil, models.ErrMessageTooLong
	}
	if !s.acquire(userID) {
		slog.Debug("ChatService.SendMessage: turn already in flight", "userID", userID)
		return nil, ErrBusy
	}
	defer s.release(userID)

	// Everything that can fail before the user message is stored runs first,
	// so a failed turn leaves the request key unused for the retry.
	scoped := ""
	if requestKey != "" {
		scoped = userID + ":" + requestKey
		dup, err := s.store.IsDuplicate(scoped)
		if err != nil {
			return nil, fmt.Errorf("failed to check chat request key: %w", err)
		}
		if dup {
			slog.Info("ChatService.SendMessage: duplicate request", "userID", userID, "requestKey", requestKey)
			return nil, ErrDuplicateRequest
		}
	}

	history, err := s.store.ListMessages(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	surveyData, err := s.surveySnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.AppendMessage(ctx, models.ConversationMessage{
		UserID:  userID,
		Sender:  models.SenderUser,
		Content: content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	history = append(history, userMsg)

	if scoped != "" {
		// The busy gate serializes a user's turns, so the key cannot have
		// been taken since IsDuplicate.
		if _, err := s.store.RecordInbound(scoped, userID); err != nil {
			slog.Warn("ChatService.SendMessage: failed to record request key", "userID", userID, "error", err)
		}
		defer func() {
			if err := s.store.MarkProcessed(scoped); err != nil {
				slog.Warn("ChatService.SendMessage: failed to mark request processed", "userID", userID, "error", err)
			}
		}()
	}

	turn := &Turn{UserMessage: userMsg}
	out, flowErr := s.flows.SupportReply.Run(ctx, flow.SupportReplyInput{
		SurveyData:          surveyData,
		ConversationHistory: FormatHistory(history),
		UserMessage:         content,
	})

	// The reply is persisted even if the caller went away mid-turn.
	persistCtx := context.WithoutCancel(ctx)

	replyText := out.AIResponse
	if flowErr == nil && strings.TrimSpace(replyText) == "" {
		flowErr = errors.New("support reply flow returned an empty reply")
	}
	if flowErr != nil {
		turn.Fallback = true
		turn.ErrorKind = flow.ErrorKind(flowErr)
		replyText = FallbackReply
		slog.Error("ChatService.SendMessage: support reply failed, sending fallback", "userID", userID, "kind", turn.ErrorKind, "error", flowErr)
	}

	reply, err := s.store.AppendMessage(persistCtx, models.ConversationMessage{
		UserID:  userID,
		Sender:  models.SenderAssistant,
		Content: replyText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store assistant reply: %w", err)
	}
	turn.Reply = reply

	if !turn.Fallback && strings.TrimSpace(out.PsychologicalInsights) != "" {
		ins, err := s.store.AddInsight(persistCtx, models.Insight{
			UserID:                userID,
			Source:                models.InsightSourceChat,
			PsychologicalInsights: out.PsychologicalInsights,
		})
		if err != nil {
			slog.Warn("ChatService.SendMessage: failed to store insight", "userID", userID, "error", err)
		} else {
			turn.Insight = &ins
		}
	}

	slog.Info("ChatService.SendMessage: turn complete", "userID", userID, "fallback", turn.Fallback, "historyLength", len(history))
	return turn, nil
}

// History returns the user's conversation in order.
func (s *Service) History(ctx context.Context, userID string) ([]models.ConversationMessage, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	return s.store.ListMessages(ctx, userID, 0)
}

// LookupReferences runs the reference lookup flow for query.
func (s *Service) LookupReferences(ctx context.Context, query string) (*flow.ReferenceLookupOutput, error) {
	out, err := s.flows.ReferenceLookup.Run(ctx, flow.ReferenceLookupInput{Query: query})
	if err != nil {
		slog.Error("ChatService.LookupReferences: flow failed", "kind", flow.ErrorKind(err), "error", err)
		return nil, err
	}
	return &out, nil
}

func (s *Service) acquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

func (s *Service) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}

// surveyJSON is the survey as the support prompt sees it.
type surveyJSON struct {
	HealthStatus        string   `json:"healthStatus"`
	DailyLifeChallenges []string `json:"dailyLifeChallenges"`
	HelpSeekingBarriers []string `json:"helpSeekingBarriers"`
	Notes               string   `json:"notes,omitempty"`
}

func (s *Service) surveySnapshot(ctx context.Context, userID string) (string, error) {
	rec, err := s.store.GetSurvey(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return NoSurveyData, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load survey: %w", err)
	}
	return SurveySnapshot(rec)
}

// SurveySnapshot serializes a survey for the support prompt.
func SurveySnapshot(rec *models.SurveyRecord) (string, error) {
	if rec == nil {
		return NoSurveyData, nil
	}
	data := surveyJSON{
		HealthStatus:        rec.HealthStatus,
		DailyLifeChallenges: nonNil(rec.DailyLifeChallenges),
		HelpSeekingBarriers: nonNil(rec.HelpSeekingBarriers),
		Notes:               rec.Notes,
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode survey: %w", err)
	}
	return string(b), nil
}

// FormatHistory renders messages as "<sender>: <content>" lines in order.
func FormatHistory(msgs []models.ConversationMessage) string {
	lines := make([]prompt.Line, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, prompt.Line{Label: string(m.Sender), Text: m.Content})
	}
	return prompt.Lines("", lines)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
