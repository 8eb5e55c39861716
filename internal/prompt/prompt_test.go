package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestCompileAndRender(t *testing.T) {
	tmpl, err := Compile("greeting", "Hello {{name}}, you said {{ msg }}. Bye {{name}}.")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !reflect.DeepEqual(tmpl.Slots(), []string{"name", "msg"}) {
		t.Errorf("unexpected slots: %v", tmpl.Slots())
	}
	out, err := tmpl.Render(Slots{"name": "Ada", "msg": "hi"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if out != "Hello Ada, you said hi. Bye Ada." {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRender_EmptySlotValueIsAllowed(t *testing.T) {
	tmpl, _ := Compile("q", "Query: {{query}}")
	out, err := tmpl.Render(Slots{"query": ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Query: " {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRender_MissingSlot(t *testing.T) {
	tmpl, _ := Compile("t", "{{a}} and {{b}}")
	_, err := tmpl.Render(Slots{"a": "x"})
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TemplateError, got %v", err)
	}
	if terr.Slot != "b" || terr.Template != "t" {
		t.Errorf("unexpected error fields: %+v", terr)
	}
}

func TestCompile_Errors(t *testing.T) {
	for _, text := range []string{"open {{name", "bad {{na me}}", "empty {{}}"} {
		_, err := Compile("bad", text)
		var terr *TemplateError
		if !errors.As(err, &terr) {
			t.Errorf("Compile(%q): expected *TemplateError, got %v", text, err)
		}
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render("nope", Slots{})
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TemplateError, got %v", err)
	}
}

func TestRenderer_BuiltInTemplates(t *testing.T) {
	r := NewRenderer()
	cases := map[Name][]string{
		SupportReply:    {"surveyData", "conversationHistory", "userMessage"},
		ReferenceLookup: {"query"},
		SurveyInsights:  {"surveyData.healthStatus", "surveyData.dailyLifeChallenges", "surveyData.helpSeekingBarriers", "pastMessages"},
	}
	for name, want := range cases {
		tmpl, ok := r.Get(name)
		if !ok {
			t.Fatalf("built-in template %s not registered", name)
		}
		if !reflect.DeepEqual(tmpl.Slots(), want) {
			t.Errorf("%s: slots %v, want %v", name, tmpl.Slots(), want)
		}
	}
}

func TestRenderer_Deterministic(t *testing.T) {
	r := NewRenderer()
	slots := Slots{"surveyData": "{}", "conversationHistory": "", "userMessage": "I feel anxious today"}
	first, err := r.Render(SupportReply, slots)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	second, _ := r.Render(SupportReply, slots)
	if first != second {
		t.Error("rendering the same slots twice produced different text")
	}
	if !strings.Contains(first, "User Message: I feel anxious today") {
		t.Errorf("rendered prompt missing user message: %q", first)
	}
}

func TestRenderer_LoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, string(ReferenceLookup)+".txt"), []byte("Find: {{query}}"), 0644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	r := NewRenderer()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	out, err := r.Render(ReferenceLookup, Slots{"query": "sleep"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if out != "Find: sleep" {
		t.Errorf("override not applied, got %q", out)
	}
	// untouched templates keep the built-in text
	if _, err := r.Render(SupportReply, Slots{"surveyData": "", "conversationHistory": "", "userMessage": ""}); err != nil {
		t.Errorf("built-in template broken after LoadDir: %v", err)
	}
}

func TestLines(t *testing.T) {
	got := Lines("  ", []Line{{"user", "I can't sleep"}, {"assistant", "I'm sorry"}})
	want := "  user: I can't sleep\n  assistant: I'm sorry"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if Lines("  ", nil) != "" {
		t.Error("expected empty string for no lines")
	}
}
