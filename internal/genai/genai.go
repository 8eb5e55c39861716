// Package genai sends rendered prompts to an OpenAI-compatible chat
// completions endpoint and returns the structured reply.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/CicekTerapi/internal/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults applied by NewClient.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
)

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

// chatService is the slice of the OpenAI SDK the client needs.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ProviderError wraps a failure reported by the completion provider:
// transport problems, authentication, rate limits, timeouts.
type ProviderError struct {
	Template   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion provider error for %s (status %d): %v", e.Template, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion provider error for %s: %v", e.Template, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited reports whether the provider rejected the call with HTTP 429.
func (e *ProviderError) RateLimited() bool { return e.StatusCode == 429 }

// EmptyResponseError reports a completion that carried no usable content.
type EmptyResponseError struct {
	Template string
	Reason   string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("empty completion for %s: %s", e.Template, e.Reason)
}

// Request is one structured completion call.
type Request struct {
	Template string
	Prompt   string
	Schema   schema.Schema
}

// Result is the raw structured reply of a completion call.
type Result struct {
	Raw              []byte
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string
	Timeout     time.Duration
	DebugMode   bool
	StateDir    string
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the provider API key. When unset, OPENAI_API_KEY is used.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens caps completion tokens. Zero leaves the provider default.
func WithMaxTokens(tokens int) Option {
	return func(o *Opts) { o.MaxTokens = tokens }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout bounds a single provider request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDebugMode writes every provider call to <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// NewClient initializes a client. The SDK's own retries are disabled: a
// failed call surfaces to the caller as a *ProviderError.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("GenAI client initialized", "model", cfg.Model, "temperature", cfg.Temperature, "maxTokens", cfg.MaxTokens, "baseURL", cfg.BaseURL, "debugMode", cfg.DebugMode)
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Invoke sends req.Prompt as a single user message and constrains the reply
// to req.Schema. The returned bytes are not checked against the schema.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	params := c.buildParams(req)
	slog.Debug("GenAI.Invoke: calling provider", "template", req.Template, "model", c.model, "promptLength", len(req.Prompt))

	resp, err := c.chat.New(ctx, params)
	c.writeDebugLog("Invoke", req.Template, params, resp, err)
	if err != nil {
		perr := &ProviderError{Template: req.Template, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			perr.StatusCode = apiErr.StatusCode
		}
		slog.Error("GenAI.Invoke: provider call failed", "template", req.Template, "status", perr.StatusCode, "error", err)
		return nil, perr
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Warn("GenAI.Invoke: no choices returned", "template", req.Template)
		return nil, &EmptyResponseError{Template: req.Template, Reason: "no choices returned"}
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		slog.Warn("GenAI.Invoke: model refused", "template", req.Template, "refusal", msg.Refusal)
		return nil, &EmptyResponseError{Template: req.Template, Reason: "model refused: " + msg.Refusal}
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		slog.Warn("GenAI.Invoke: empty content", "template", req.Template, "finishReason", resp.Choices[0].FinishReason)
		return nil, &EmptyResponseError{Template: req.Template, Reason: "completion has no content"}
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	slog.Debug("GenAI.Invoke: completion received", "template", req.Template, "model", model, "promptTokens", resp.Usage.PromptTokens, "completionTokens", resp.Usage.CompletionTokens)
	return &Result{
		Raw:              []byte(content),
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) buildParams(req Request) openai.ChatCompletionNewParams {
	format := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   req.Schema.Name,
		Schema: req.Schema.JSONSchema(),
		Strict: openai.Bool(true),
	}
	if req.Schema.Description != "" {
		format.Description = openai.String(req.Schema.Description)
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: format},
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	return params
}
