package insights

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CicekTerapi/internal/flow"
	"github.com/BTreeMap/CicekTerapi/internal/genai"
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/store"
	"github.com/BTreeMap/CicekTerapi/internal/testutil"
)

const okInsights = `{"psychologicalInsights":"Elevated stress.","suggestedSupport":"Short breathing exercises."}`

func seedUser(t *testing.T, st *store.InMemoryStore, userID string, messages int) {
	t.Helper()
	testutil.SeedSurvey(t, st, userID, "fair", []string{"sleep", "work"}, []string{"cost"})
	testutil.SeedConversation(t, st, userID, messages)
}

func TestAnalyze_StoresInsight(t *testing.T) {
	st := store.NewInMemoryStore()
	seedUser(t, st, "u1", 2)
	inv := testutil.NewStubInvoker(okInsights)
	a := NewAnalyzer(st, flow.NewSet(inv, nil))

	ins, err := a.Analyze(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if ins.Source != models.InsightSourceSurveyAnalysis || ins.SuggestedSupport != "Short breathing exercises." {
		t.Errorf("unexpected insight: %+v", ins)
	}
	stored, _ := st.ListInsights(context.Background(), "u1", 0)
	if len(stored) != 1 || stored[0].ID != ins.ID {
		t.Errorf("insight not persisted: %+v", stored)
	}

	p := inv.LastPrompt()
	for _, want := range []string{"sleep, work", "cost", "  user: m0\n  assistant: m1"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestAnalyze_UsesRecentHistory(t *testing.T) {
	st := store.NewInMemoryStore()
	seedUser(t, st, "u1", 6)
	inv := testutil.NewStubInvoker(okInsights)
	a := NewAnalyzer(st, flow.NewSet(inv, nil), WithHistoryLimit(2))

	if _, err := a.Analyze(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	p := inv.LastPrompt()
	if strings.Contains(p, "m3") || !strings.Contains(p, "m4") || !strings.Contains(p, "m5") {
		t.Errorf("expected only the last two messages:\n%s", p)
	}
}

func TestAnalyze_NoSurvey(t *testing.T) {
	st := store.NewInMemoryStore()
	inv := testutil.NewStubInvoker(okInsights)
	a := NewAnalyzer(st, flow.NewSet(inv, nil))

	if _, err := a.Analyze(context.Background(), "ghost"); !errors.Is(err, ErrNoSurvey) {
		t.Errorf("expected ErrNoSurvey, got %v", err)
	}
	if _, err := a.Analyze(context.Background(), ""); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if inv.Calls() != 0 {
		t.Errorf("no provider calls expected")
	}
}

func TestAnalyze_FlowError(t *testing.T) {
	st := store.NewInMemoryStore()
	seedUser(t, st, "u1", 0)
	inv := testutil.NewStubInvoker("")
	inv.SetErr(&genai.ProviderError{Template: "x", Err: errors.New("down")})
	a := NewAnalyzer(st, flow.NewSet(inv, nil))

	_, err := a.Analyze(context.Background(), "u1")
	var provErr *genai.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	stored, _ := st.ListInsights(context.Background(), "u1", 0)
	if len(stored) != 0 {
		t.Errorf("no insight expected on failure")
	}
}

func TestBuildInput(t *testing.T) {
	in := BuildInput(&models.SurveyRecord{HealthStatus: "good"}, nil)
	if in.SurveyData.DailyLifeChallenges != "" || len(in.PastMessages) != 0 {
		t.Errorf("unexpected input: %+v", in)
	}
}

func TestDedupeKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	if got := DedupeKey("u1", at); got != "survey_insights:u1:2024-03-10" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestEnqueueAll_OneJobPerUserPerDay(t *testing.T) {
	st := store.NewInMemoryStore()
	seedUser(t, st, "u1", 0)
	seedUser(t, st, "u2", 0)
	s, err := NewScheduler(st, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.Spec() != DefaultSchedule {
		t.Errorf("expected default schedule, got %q", s.Spec())
	}
	now := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if n, err := s.EnqueueAll(ctx, now); err != nil || n != 2 {
		t.Fatalf("EnqueueAll = %d, %v", n, err)
	}
	if _, err := s.EnqueueAll(ctx, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	jobs, err := st.ClaimDueJobs(now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 deduplicated jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Kind != JobKind {
			t.Errorf("unexpected kind %q", j.Kind)
		}
		var p jobPayload
		if err := json.Unmarshal([]byte(j.PayloadJSON), &p); err != nil || p.UserID == "" {
			t.Errorf("bad payload %q: %v", j.PayloadJSON, err)
		}
	}
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	if _, err := NewScheduler(store.NewInMemoryStore(), "every day"); err == nil {
		t.Error("expected invalid spec to be rejected")
	}
}

func TestJobHandler_RunsThroughJobRunner(t *testing.T) {
	st := store.NewInMemoryStore()
	seedUser(t, st, "u1", 2)
	inv := testutil.NewStubInvoker(okInsights)
	a := NewAnalyzer(st, flow.NewSet(inv, nil))

	runner := store.NewJobRunner(st, time.Minute)
	runner.RegisterHandler(JobKind, JobHandler(a))

	s, err := NewScheduler(st, DefaultSchedule)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if _, err := s.EnqueueAll(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if done := runner.RunOnce(context.Background(), now.Add(time.Second)); done != 1 {
		t.Fatalf("expected 1 completed job, got %d", done)
	}
	stored, _ := st.ListInsights(context.Background(), "u1", 0)
	if len(stored) != 1 || stored[0].Source != models.InsightSourceSurveyAnalysis {
		t.Errorf("unexpected insights: %+v", stored)
	}
}

func TestJobHandler_SkipsMissingSurvey(t *testing.T) {
	a := NewAnalyzer(store.NewInMemoryStore(), flow.NewSet(testutil.NewStubInvoker(okInsights), nil))
	h := JobHandler(a)
	if err := h(context.Background(), `{"user_id":"ghost"}`); err != nil {
		t.Errorf("missing survey should not be retried: %v", err)
	}
	if err := h(context.Background(), `not json`); err == nil {
		t.Error("expected malformed payload to fail")
	}
}

func TestJobHandler_FailureIsRetried(t *testing.T) {
	st := store.NewInMemoryStore()
	seedUser(t, st, "u1", 0)
	inv := testutil.NewStubInvoker("")
	inv.SetErr(errors.New("boom"))
	a := NewAnalyzer(st, flow.NewSet(inv, nil))
	runner := store.NewJobRunner(st, time.Minute)
	runner.RegisterHandler(JobKind, JobHandler(a))

	now := time.Now()
	id, err := st.EnqueueJob(JobKind, now, `{"user_id":"u1"}`, "")
	if err != nil {
		t.Fatal(err)
	}
	if done := runner.RunOnce(context.Background(), now); done != 0 {
		t.Errorf("expected no completed jobs, got %d", done)
	}
	job, _ := st.GetJob(id)
	if job.Status != store.JobStatusQueued || job.Attempt != 1 || !job.RunAt.Equal(now.Add(store.Backoff(0))) {
		t.Errorf("unexpected job after failure: %+v", job)
	}
}
