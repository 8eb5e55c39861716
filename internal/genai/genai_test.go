package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/CicekTerapi/internal/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	calls  int
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls++
	m.params = params
	return m.resp, m.err
}

func completion(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Model: "gpt-4o-mini-2024-07-18",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

var replySchema = schema.Schema{
	Name:        "replyOutput",
	Description: "a reply",
	Fields:      []schema.Field{schema.String("reply", "the reply")},
}

func testClient(svc chatService) *Client {
	return &Client{chat: svc, model: "test-model", temperature: 0.7, maxTokens: 100}
}

func TestInvoke_Success(t *testing.T) {
	svc := &mockChatService{resp: completion(`  {"reply":"hello"}` + "\n")}
	client := testClient(svc)

	res, err := client.Invoke(context.Background(), Request{Template: "t", Prompt: "say hi", Schema: replySchema})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(res.Raw) != `{"reply":"hello"}` {
		t.Errorf("unexpected raw output: %q", res.Raw)
	}
	if res.Model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("expected provider model name, got %q", res.Model)
	}
	if svc.calls != 1 {
		t.Errorf("expected exactly one provider call, got %d", svc.calls)
	}
}

func TestInvoke_BuildsStructuredRequest(t *testing.T) {
	svc := &mockChatService{resp: completion(`{"reply":"x"}`)}
	client := testClient(svc)

	if _, err := client.Invoke(context.Background(), Request{Template: "t", Prompt: "the prompt", Schema: replySchema}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := svc.params
	if string(p.Model) != "test-model" {
		t.Errorf("expected model test-model, got %q", p.Model)
	}
	if len(p.Messages) != 1 || p.Messages[0].OfUser == nil {
		t.Fatalf("expected a single user message, got %+v", p.Messages)
	}
	if p.Messages[0].OfUser.Content.OfString.Value != "the prompt" {
		t.Errorf("unexpected prompt content: %q", p.Messages[0].OfUser.Content.OfString.Value)
	}
	format := p.ResponseFormat.OfJSONSchema
	if format == nil {
		t.Fatal("expected a json_schema response format")
	}
	if format.JSONSchema.Name != "replyOutput" || !format.JSONSchema.Strict.Value {
		t.Errorf("unexpected schema format: name=%q strict=%v", format.JSONSchema.Name, format.JSONSchema.Strict.Value)
	}
	if p.Temperature.Value != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", p.Temperature.Value)
	}
	if p.MaxCompletionTokens.Value != 100 {
		t.Errorf("expected max tokens 100, got %v", p.MaxCompletionTokens.Value)
	}
}

func TestInvoke_ProviderError(t *testing.T) {
	client := testClient(&mockChatService{err: errors.New("connection reset")})
	_, err := client.Invoke(context.Background(), Request{Template: "t", Prompt: "p", Schema: replySchema})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if perr.StatusCode != 0 || perr.RateLimited() {
		t.Errorf("unexpected status on transport error: %d", perr.StatusCode)
	}
}

func TestInvoke_ProviderStatus(t *testing.T) {
	apiErr := &openai.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}
	client := testClient(&mockChatService{err: fmt.Errorf("post: %w", apiErr)})
	_, err := client.Invoke(context.Background(), Request{Template: "t", Prompt: "p", Schema: replySchema})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if !perr.RateLimited() {
		t.Errorf("expected rate limited error, got status %d", perr.StatusCode)
	}
}

func TestInvoke_EmptyResponses(t *testing.T) {
	cases := map[string]*openai.ChatCompletion{
		"nil response": nil,
		"no choices":   {Choices: []openai.ChatCompletionChoice{}},
		"blank":        completion("   "),
		"refusal": {Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Refusal: "I can't help with that"}},
		}},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			client := testClient(&mockChatService{resp: resp})
			_, err := client.Invoke(context.Background(), Request{Template: "t", Prompt: "p", Schema: replySchema})
			var eerr *EmptyResponseError
			if !errors.As(err, &eerr) {
				t.Fatalf("expected *EmptyResponseError, got %v", err)
			}
		})
	}
}

func TestInvoke_DoesNotCheckShape(t *testing.T) {
	client := testClient(&mockChatService{resp: completion("not json at all")})
	res, err := client.Invoke(context.Background(), Request{Template: "t", Prompt: "p", Schema: replySchema})
	if err != nil {
		t.Fatalf("shape checking belongs to the caller, got %v", err)
	}
	if string(res.Raw) != "not json at all" {
		t.Errorf("unexpected raw output: %q", res.Raw)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_Options(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()
	client, err := NewClient(
		WithAPIKey("sk-test"),
		WithModel("gpt-4o"),
		WithTemperature(0.2),
		WithMaxTokens(512),
		WithBaseURL("http://localhost:9999/v1"),
		WithDebugMode(true, dir),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Model() != "gpt-4o" || client.temperature != 0.2 || client.maxTokens != 512 {
		t.Errorf("options not applied: %+v", client)
	}
	if !client.debugMode || client.stateDir != dir {
		t.Errorf("debug options not applied: %+v", client)
	}
}

func TestNewClient_DefaultsFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	client, err := NewClient(WithModel(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Model() != DefaultModel || client.temperature != DefaultTemperature {
		t.Errorf("expected defaults, got model=%q temperature=%v", client.Model(), client.temperature)
	}
}
