// Package flow composes the prompt renderer, the schema validator and the
// completion invoker into typed request/response flows.
//
// Every flow runs the same pipeline: validate the input record, render the
// named template, make one completion call constrained to the output schema,
// then decode and check the reply. A flow either returns a complete typed
// result or one of the typed errors below; it never returns partial output
// and never retries.
package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/CicekTerapi/internal/genai"
	"github.com/BTreeMap/CicekTerapi/internal/prompt"
	"github.com/BTreeMap/CicekTerapi/internal/schema"
)

// Invoker performs a single structured completion call.
type Invoker interface {
	Invoke(ctx context.Context, req genai.Request) (*genai.Result, error)
}

// Recorder is implemented by typed flow inputs.
type Recorder interface {
	Record() schema.Record
}

// Flow is one named prompt flow with typed input In and output Out.
type Flow[In Recorder, Out any] struct {
	template prompt.Name
	input    schema.Schema
	output   schema.Schema
	slots    func(schema.Record) prompt.Slots
	result   func(schema.Record) Out
	invoker  Invoker
	renderer *prompt.Renderer
}

// Name returns the template the flow renders.
func (f *Flow[In, Out]) Name() prompt.Name { return f.template }

// Run executes the flow for a typed input.
func (f *Flow[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	return f.RunRecord(ctx, in.Record())
}

// RunJSON executes the flow for a JSON-encoded input object.
func (f *Flow[In, Out]) RunJSON(ctx context.Context, raw []byte) (Out, error) {
	rec, err := f.input.ParseRecord(raw)
	if err != nil {
		var zero Out
		slog.Warn("Flow.RunJSON: rejected input", "flow", f.template, "error", err)
		return zero, err
	}
	return f.RunRecord(ctx, rec)
}

// RunRecord executes the flow for an untyped input record.
func (f *Flow[In, Out]) RunRecord(ctx context.Context, rec schema.Record) (Out, error) {
	var zero Out
	if err := f.input.Validate(rec); err != nil {
		slog.Warn("Flow.Run: input validation failed", "flow", f.template, "error", err)
		return zero, err
	}

	text, err := f.renderer.Render(f.template, f.slots(rec))
	if err != nil {
		slog.Error("Flow.Run: template rendering failed", "flow", f.template, "error", err)
		return zero, err
	}

	slog.Debug("Flow.Run: invoking completion", "flow", f.template, "promptLength", len(text))
	res, err := f.invoker.Invoke(ctx, genai.Request{Template: string(f.template), Prompt: text, Schema: f.output})
	if err != nil {
		return zero, err
	}

	out, err := f.output.Decode(res.Raw)
	if err != nil {
		slog.Warn("Flow.Run: malformed completion", "flow", f.template, "model", res.Model, "error", err)
		return zero, err
	}
	slog.Debug("Flow.Run: completed", "flow", f.template, "model", res.Model)
	return f.result(out), nil
}

// Set holds the three flows bound to one invoker and renderer.
type Set struct {
	SupportReply    *Flow[SupportReplyInput, SupportReplyOutput]
	ReferenceLookup *Flow[ReferenceLookupInput, ReferenceLookupOutput]
	SurveyInsights  *Flow[SurveyInsightsInput, SurveyInsightsOutput]
}

// NewSet builds every flow. A nil renderer gets the built-in templates.
func NewSet(invoker Invoker, renderer *prompt.Renderer) *Set {
	if renderer == nil {
		renderer = prompt.NewRenderer()
	}
	return &Set{
		SupportReply:    NewSupportReply(invoker, renderer),
		ReferenceLookup: NewReferenceLookup(invoker, renderer),
		SurveyInsights:  NewSurveyInsights(invoker, renderer),
	}
}

// Error kinds reported by ErrorKind.
const (
	KindValidation    = "validation"
	KindTemplate      = "template"
	KindProvider      = "provider"
	KindEmptyResponse = "empty_response"
	KindResponseShape = "response_shape"
	KindUnknown       = "unknown"
)

// ErrorKind classifies a flow error for logging and status mapping.
func ErrorKind(err error) string {
	var (
		validationErr *schema.ValidationError
		templateErr   *prompt.TemplateError
		providerErr   *genai.ProviderError
		emptyErr      *genai.EmptyResponseError
		shapeErr      *schema.ResponseShapeError
	)
	switch {
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &templateErr):
		return KindTemplate
	case errors.As(err, &providerErr):
		return KindProvider
	case errors.As(err, &emptyErr):
		return KindEmptyResponse
	case errors.As(err, &shapeErr):
		return KindResponseShape
	}
	return KindUnknown
}
