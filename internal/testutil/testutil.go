// Package testutil provides common test doubles and helpers for CicekTerapi
// tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/CicekTerapi/internal/genai"
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/store"
)

// StubInvoker is a completion invoker that returns canned payloads. Replies
// are looked up by template name, falling back to Default.
type StubInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	def     string
	err     error
	reqs    []genai.Request

	// Block, when non-nil, holds every call until it is closed. Started, when
	// non-nil, receives once per call before blocking.
	Block   chan struct{}
	Started chan struct{}
}

// NewStubInvoker returns a stub that answers every template with def.
func NewStubInvoker(def string) *StubInvoker {
	return &StubInvoker{replies: make(map[string]string), def: def}
}

// Invoke records req and returns the configured reply or error.
func (s *StubInvoker) Invoke(ctx context.Context, req genai.Request) (*genai.Result, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	raw, ok := s.replies[req.Template]
	if !ok {
		raw = s.def
	}
	err, block, started := s.err, s.Block, s.Started
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &genai.ProviderError{Template: req.Template, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	return &genai.Result{Raw: []byte(raw), Model: "stub"}, nil
}

// SetReply sets the payload returned for template.
func (s *StubInvoker) SetReply(template, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[template] = raw
}

// SetErr makes every subsequent call fail with err; nil restores replies.
func (s *StubInvoker) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Unblock releases blocked calls and stops signalling Started.
func (s *StubInvoker) Unblock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = nil
	if s.Block != nil {
		close(s.Block)
		s.Block = nil
	}
}

// Calls returns the number of Invoke calls so far.
func (s *StubInvoker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

// Requests returns a copy of every request received.
func (s *StubInvoker) Requests() []genai.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]genai.Request(nil), s.reqs...)
}

// LastPrompt returns the prompt of the most recent call, or "".
func (s *StubInvoker) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reqs) == 0 {
		return ""
	}
	return s.reqs[len(s.reqs)-1].Prompt
}

// SeedSurvey stores a survey for userID with the given health status.
func SeedSurvey(t *testing.T, st store.SurveyRepo, userID, healthStatus string, challenges, barriers []string) models.SurveyRecord {
	t.Helper()
	rec, err := st.SaveSurvey(context.Background(), models.SurveyRecord{
		UserID:              userID,
		HealthStatus:        healthStatus,
		DailyLifeChallenges: challenges,
		HelpSeekingBarriers: barriers,
	})
	if err != nil {
		t.Fatalf("failed to seed survey: %v", err)
	}
	return rec
}

// SeedConversation appends n alternating user/assistant messages "m0".."m<n-1>".
func SeedConversation(t *testing.T, st store.MessageRepo, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		sender := models.SenderUser
		if i%2 == 1 {
			sender = models.SenderAssistant
		}
		msg := models.ConversationMessage{UserID: userID, Sender: sender, Content: fmt.Sprintf("m%d", i)}
		if _, err := st.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("failed to seed message %d: %v", i, err)
		}
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// NewJSONRequest creates a request with an optional JSON body and headers
// given as name/value pairs.
func NewJSONRequest(method, url, body string, headers ...string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

// DecodeEnvelope decodes an API envelope and, when result is non-nil, its
// result field into result.
func DecodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, result interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	if result != nil && len(envelope.Result) > 0 {
		MustUnmarshalJSON(t, envelope.Result, result)
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
