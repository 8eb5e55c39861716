// Package models defines the core data structures for CicekTerapi.
//
// It includes the survey record, conversation messages, persisted insights and
// the JSON envelope shared by the API handlers.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sender identifies who authored a conversation message.
type Sender string

const (
	// SenderUser marks a message typed by the user.
	SenderUser Sender = "user"
	// SenderAssistant marks a message produced by the support assistant.
	SenderAssistant Sender = "assistant"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a chat message
	MaxMessageLength = 4096
	// MaxSurveyNotesLength defines the maximum allowed length for freeform survey notes
	MaxSurveyNotesLength = 4096
	// MaxSurveyListItems defines the maximum number of selections in a survey list question
	MaxSurveyListItems = 20
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrEmptyHealthStatus    = errors.New("healthStatus is required")
	ErrSurveyNotesTooLong   = errors.New("survey notes exceed maximum length")
	ErrTooManySurveyItems   = errors.New("too many survey selections")
	ErrEmptySurveyItem      = errors.New("survey selections cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidSender        = errors.New("invalid message sender")
	ErrInvalidInsightSource = errors.New("invalid insight source")
)

// ParseSender converts a stored or client supplied sender label into a Sender.
// The label "ai" written by earlier clients is read as SenderAssistant.
func ParseSender(s string) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(SenderUser):
		return SenderUser, nil
	case string(SenderAssistant), "ai":
		return SenderAssistant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSender, s)
	}
}

// ConversationMessage is one turn of a user's support chat.
type ConversationMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SurveyRecord is the wellbeing profile a user submits before chatting.
type SurveyRecord struct {
	UserID              string    `json:"user_id"`
	HealthStatus        string    `json:"healthStatus"`
	DailyLifeChallenges []string  `json:"dailyLifeChallenges"`
	HelpSeekingBarriers []string  `json:"helpSeekingBarriers"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Validate checks the fields a user must supply when completing the survey.
func (s *SurveyRecord) Validate() error {
	if s.UserID == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(s.HealthStatus) == "" {
		return ErrEmptyHealthStatus
	}
	if len(s.Notes) > MaxSurveyNotesLength {
		return ErrSurveyNotesTooLong
	}
	for _, list := range [][]string{s.DailyLifeChallenges, s.HelpSeekingBarriers} {
		if len(list) > MaxSurveyListItems {
			return ErrTooManySurveyItems
		}
		for _, item := range list {
			if strings.TrimSpace(item) == "" {
				return ErrEmptySurveyItem
			}
		}
	}
	return nil
}

// InsightSource records which flow produced an insight.
type InsightSource string

const (
	// InsightSourceChat is produced on every successful chat turn.
	InsightSourceChat InsightSource = "chat"
	// InsightSourceSurveyAnalysis is produced by the periodic survey analysis.
	InsightSourceSurveyAnalysis InsightSource = "survey_analysis"
)

// IsValidInsightSource checks if the given insight source is supported.
func IsValidInsightSource(src InsightSource) bool {
	switch src {
	case InsightSourceChat, InsightSourceSurveyAnalysis:
		return true
	default:
		return false
	}
}

// Insight is inferred psychological insight text kept for a user.
type Insight struct {
	ID                    string        `json:"id"`
	UserID                string        `json:"user_id"`
	Source                InsightSource `json:"source"`
	PsychologicalInsights string        `json:"psychologicalInsights"`
	SuggestedSupport      string        `json:"suggestedSupport,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
}

// SurveyRequest is the payload for PUT /survey.
type SurveyRequest struct {
	HealthStatus        string   `json:"healthStatus"`
	DailyLifeChallenges []string `json:"dailyLifeChallenges"`
	HelpSeekingBarriers []string `json:"helpSeekingBarriers"`
	Notes               string   `json:"notes,omitempty"`
}

// ChatMessageRequest is the payload for POST /chat/messages.
type ChatMessageRequest struct {
	Content string `json:"content"`
}

// Validate rejects blank and oversized chat messages.
func (r *ChatMessageRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return errors.New("content is required")
	}
	if len(r.Content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ReferenceSearchRequest is the payload for POST /references/search.
type ReferenceSearchRequest struct {
	Query string `json:"query"`
}

// Validate rejects a blank query.
func (r *ReferenceSearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query is required")
	}
	if len(r.Query) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
