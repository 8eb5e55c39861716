package flow

import (
	"github.com/BTreeMap/CicekTerapi/internal/prompt"
	"github.com/BTreeMap/CicekTerapi/internal/schema"
)

// ReferenceLookupInput is a free-text literature query.
type ReferenceLookupInput struct {
	Query string `json:"query"`
}

func (in ReferenceLookupInput) Record() schema.Record {
	return schema.Record{"query": in.Query}
}

// ReferenceLookupOutput holds the model's findings as one block of text.
type ReferenceLookupOutput struct {
	Results string `json:"results"`
}

var referenceLookupInput = schema.Schema{
	Name: "literatureSearchSupportInput",
	Fields: []schema.Field{
		schema.String("query", "The query to search the psychological literature for."),
	},
}

var referenceLookupOutput = schema.Schema{
	Name:        "literatureSearchSupportOutput",
	Description: "Findings from the psychological literature.",
	Fields: []schema.Field{
		schema.String("results", "The search results from the psychological literature."),
	},
}

// NewReferenceLookup builds the reference lookup flow.
func NewReferenceLookup(invoker Invoker, renderer *prompt.Renderer) *Flow[ReferenceLookupInput, ReferenceLookupOutput] {
	return &Flow[ReferenceLookupInput, ReferenceLookupOutput]{
		template: prompt.ReferenceLookup,
		input:    referenceLookupInput,
		output:   referenceLookupOutput,
		slots: func(rec schema.Record) prompt.Slots {
			return prompt.Slots{"query": rec.String("query")}
		},
		result: func(rec schema.Record) ReferenceLookupOutput {
			return ReferenceLookupOutput{Results: rec.String("results")}
		},
		invoker:  invoker,
		renderer: renderer,
	}
}
