package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/CicekTerapi/internal/flow"
	"github.com/BTreeMap/CicekTerapi/internal/genai"
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/store"
	"github.com/BTreeMap/CicekTerapi/internal/testutil"
)

func newTestService(inv *testutil.StubInvoker) (*Service, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return NewService(st, flow.NewSet(inv, nil)), st
}

const okReply = `{"aiResponse":"That sounds hard. What helps you unwind?","psychologicalInsights":"Signs of work stress."}`

func TestSendMessage_Success(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	svc, st := newTestService(inv)
	ctx := context.Background()

	turn, err := svc.SendMessage(ctx, "u1", "Work has been overwhelming")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if turn.Fallback {
		t.Fatalf("unexpected fallback: %+v", turn)
	}
	if turn.Reply.Content != "That sounds hard. What helps you unwind?" || turn.Reply.Sender != models.SenderAssistant {
		t.Errorf("unexpected reply: %+v", turn.Reply)
	}
	if turn.UserMessage.Sender != models.SenderUser || turn.UserMessage.ID == "" {
		t.Errorf("unexpected user message: %+v", turn.UserMessage)
	}
	if turn.Insight == nil || turn.Insight.Source != models.InsightSourceChat {
		t.Fatalf("expected a chat insight, got %+v", turn.Insight)
	}

	msgs, _ := st.ListMessages(ctx, "u1", 0)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(msgs))
	}
	insights, _ := st.ListInsights(ctx, "u1", 0)
	if len(insights) != 1 || insights[0].PsychologicalInsights != "Signs of work stress." {
		t.Errorf("unexpected insights: %+v", insights)
	}
}

func TestSendMessage_PromptIncludesHistoryAndSurvey(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	svc, st := newTestService(inv)
	ctx := context.Background()

	testutil.SeedSurvey(t, st, "u1", "fair", []string{"sleep"}, nil)
	if _, err := svc.SendMessage(ctx, "u1", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessage(ctx, "u1", "second"); err != nil {
		t.Fatal(err)
	}

	p := inv.LastPrompt()
	wantHistory := "user: first\nassistant: That sounds hard. What helps you unwind?\nuser: second"
	if !strings.Contains(p, wantHistory) {
		t.Errorf("prompt missing history %q:\n%s", wantHistory, p)
	}
	if !strings.Contains(p, `"healthStatus":"fair"`) || !strings.Contains(p, `"dailyLifeChallenges":["sleep"]`) {
		t.Errorf("prompt missing survey JSON:\n%s", p)
	}
}

func TestSendMessage_NoSurvey(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	svc, _ := newTestService(inv)

	if _, err := svc.SendMessage(context.Background(), "u1", "hello"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(inv.LastPrompt(), NoSurveyData) {
		t.Errorf("expected %q in prompt:\n%s", NoSurveyData, inv.LastPrompt())
	}
}

func TestSendMessage_FallbackOnProviderError(t *testing.T) {
	inv := testutil.NewStubInvoker("")
	inv.SetErr(&genai.ProviderError{Template: "x", Err: errors.New("boom")})
	svc, st := newTestService(inv)
	ctx := context.Background()

	turn, err := svc.SendMessage(ctx, "u1", "hello")
	if err != nil {
		t.Fatalf("fallback turn should not error: %v", err)
	}
	if !turn.Fallback || turn.Reply.Content != FallbackReply {
		t.Errorf("expected fallback reply, got %+v", turn)
	}
	if turn.ErrorKind != flow.KindProvider {
		t.Errorf("expected kind %q, got %q", flow.KindProvider, turn.ErrorKind)
	}
	if turn.Insight != nil {
		t.Errorf("no insight expected on fallback")
	}
	msgs, _ := st.ListMessages(ctx, "u1", 0)
	if len(msgs) != 2 || msgs[1].Content != FallbackReply {
		t.Errorf("fallback not persisted: %+v", msgs)
	}
	insights, _ := st.ListInsights(ctx, "u1", 0)
	if len(insights) != 0 {
		t.Errorf("expected no insights, got %d", len(insights))
	}
}

func TestSendMessage_FallbackOnMalformedReply(t *testing.T) {
	inv := testutil.NewStubInvoker(`{"aiResponse":"hi"}`)
	svc, _ := newTestService(inv)

	turn, err := svc.SendMessage(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !turn.Fallback || turn.ErrorKind != flow.KindResponseShape {
		t.Errorf("expected response_shape fallback, got %+v", turn)
	}
}

func TestSendMessage_FallbackOnBlankReply(t *testing.T) {
	inv := testutil.NewStubInvoker(`{"aiResponse":"   ","psychologicalInsights":"x"}`)
	svc, _ := newTestService(inv)

	turn, err := svc.SendMessage(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !turn.Fallback || turn.Reply.Content != FallbackReply {
		t.Errorf("expected fallback for blank reply, got %+v", turn)
	}
}

func TestSendMessage_RejectsInvalidInput(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	svc, st := newTestService(inv)
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		content string
		want    error
	}{
		{"empty user", "", "hi", models.ErrEmptyUserID},
		{"blank content", "u1", "  \n ", ErrEmptyMessage},
		{"too long", "u1", strings.Repeat("a", models.MaxMessageLength+1), models.ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tt.userID, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if inv.Calls() != 0 {
		t.Errorf("no provider calls expected, got %d", inv.Calls())
	}
	msgs, _ := st.ListMessages(ctx, "u1", 0)
	if len(msgs) != 0 {
		t.Errorf("nothing should be stored, got %d messages", len(msgs))
	}
}

func isInFlight(svc *Service, userID string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_, ok := svc.inFlight[userID]
	return ok
}

func TestSendMessage_BusyWhileInFlight(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	inv.Block = make(chan struct{})
	inv.Started = make(chan struct{}, 1)
	svc, _ := newTestService(inv)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, "u1", "first")
		done <- err
	}()
	<-inv.Started

	if !isInFlight(svc, "u1") {
		t.Error("expected u1 to be in flight")
	}
	if _, err := svc.SendMessage(ctx, "u1", "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	inv.Unblock()
	// Other users are not blocked.
	if _, err := svc.SendMessage(ctx, "u2", "hello"); err != nil {
		t.Errorf("u2 should not be blocked: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if isInFlight(svc, "u1") {
		t.Error("u1 should be released")
	}
}

func TestSendMessageWithKey_Duplicate(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	svc, st := newTestService(inv)
	ctx := context.Background()

	if _, err := svc.SendMessageWithKey(ctx, "u1", "req-1", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessageWithKey(ctx, "u1", "req-1", "hello"); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got %v", err)
	}
	// Keys are scoped per user.
	if _, err := svc.SendMessageWithKey(ctx, "u2", "req-1", "hello"); err != nil {
		t.Errorf("u2 should accept the same key: %v", err)
	}
	msgs, _ := st.ListMessages(ctx, "u1", 0)
	if len(msgs) != 2 {
		t.Errorf("duplicate should not add messages, got %d", len(msgs))
	}
}

// flakyStore fails the next appendFailures AppendMessage calls and the next
// listFailures ListMessages calls.
type flakyStore struct {
	*store.InMemoryStore
	appendFailures int
	listFailures   int
}

func (f *flakyStore) AppendMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, error) {
	if f.appendFailures > 0 {
		f.appendFailures--
		return msg, errors.New("disk full")
	}
	return f.InMemoryStore.AppendMessage(ctx, msg)
}

func (f *flakyStore) ListMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	if f.listFailures > 0 {
		f.listFailures--
		return nil, errors.New("connection reset")
	}
	return f.InMemoryStore.ListMessages(ctx, userID, limit)
}

func TestSendMessageWithKey_RetryAfterStoreFailure(t *testing.T) {
	tests := []struct {
		name  string
		store *flakyStore
	}{
		{"append fails", &flakyStore{InMemoryStore: store.NewInMemoryStore(), appendFailures: 1}},
		{"history load fails", &flakyStore{InMemoryStore: store.NewInMemoryStore(), listFailures: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := testutil.NewStubInvoker(okReply)
			svc := NewService(tt.store, flow.NewSet(inv, nil))
			ctx := context.Background()

			if _, err := svc.SendMessageWithKey(ctx, "u1", "req-1", "hello"); err == nil {
				t.Fatal("expected the first attempt to fail")
			}
			if dup, _ := tt.store.IsDuplicate("u1:req-1"); dup {
				t.Error("a failed turn should not consume the request key")
			}

			turn, err := svc.SendMessageWithKey(ctx, "u1", "req-1", "hello")
			if err != nil {
				t.Fatalf("retry with the same key failed: %v", err)
			}
			if turn.Fallback {
				t.Errorf("retry should get a real reply, got fallback %q", turn.ErrorKind)
			}
			msgs, _ := tt.store.InMemoryStore.ListMessages(ctx, "u1", 0)
			if len(msgs) != 2 || msgs[0].Content != "hello" {
				t.Errorf("expected user message and reply, got %+v", msgs)
			}
			if inv.Calls() != 1 {
				t.Errorf("expected one provider call, got %d", inv.Calls())
			}

			if _, err := svc.SendMessageWithKey(ctx, "u1", "req-1", "hello"); !errors.Is(err, ErrDuplicateRequest) {
				t.Errorf("expected ErrDuplicateRequest after success, got %v", err)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	inv := testutil.NewStubInvoker(okReply)
	svc, _ := newTestService(inv)
	ctx := context.Background()

	if _, err := svc.History(ctx, ""); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, "u1", "hello"); err != nil {
		t.Fatal(err)
	}
	msgs, err := svc.History(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Sender != models.SenderUser || msgs[1].Sender != models.SenderAssistant {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func TestLookupReferences(t *testing.T) {
	inv := testutil.NewStubInvoker(`{"results":"Smith (2020), Coping with stress."}`)
	svc, _ := newTestService(inv)

	out, err := svc.LookupReferences(context.Background(), "stress coping")
	if err != nil {
		t.Fatal(err)
	}
	if out.Results != "Smith (2020), Coping with stress." {
		t.Errorf("unexpected results: %q", out.Results)
	}
	if !strings.Contains(inv.LastPrompt(), "Query: stress coping") {
		t.Errorf("prompt missing query:\n%s", inv.LastPrompt())
	}
}

func TestSurveySnapshot(t *testing.T) {
	got, err := SurveySnapshot(&models.SurveyRecord{UserID: "u1", HealthStatus: "good"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"healthStatus":"good","dailyLifeChallenges":[],"helpSeekingBarriers":[]}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got, _ := SurveySnapshot(nil); got != NoSurveyData {
		t.Errorf("nil survey: got %q", got)
	}
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]models.ConversationMessage{
		{Sender: models.SenderUser, Content: "hi"},
		{Sender: models.SenderAssistant, Content: "hello"},
	})
	if got != "user: hi\nassistant: hello" {
		t.Errorf("unexpected format: %q", got)
	}
	if FormatHistory(nil) != "" {
		t.Error("empty history should be empty")
	}
}
