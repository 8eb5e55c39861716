package flow

import (
	"github.com/BTreeMap/CicekTerapi/internal/prompt"
	"github.com/BTreeMap/CicekTerapi/internal/schema"
)

// SupportReplyInput is the per-turn input of the support assistant.
type SupportReplyInput struct {
	SurveyData          string `json:"surveyData"`
	ConversationHistory string `json:"conversationHistory"`
	UserMessage         string `json:"userMessage"`
}

func (in SupportReplyInput) Record() schema.Record {
	return schema.Record{
		"surveyData":          in.SurveyData,
		"conversationHistory": in.ConversationHistory,
		"userMessage":         in.UserMessage,
	}
}

// SupportReplyOutput is the assistant reply plus the insights inferred from
// the turn.
type SupportReplyOutput struct {
	AIResponse            string `json:"aiResponse"`
	PsychologicalInsights string `json:"psychologicalInsights"`
}

var supportReplyInput = schema.Schema{
	Name: "psychologicalSupportAssistantInput",
	Fields: []schema.Field{
		schema.String("surveyData", "The user survey data."),
		schema.String("conversationHistory", "The conversation history with the user."),
		schema.String("userMessage", "The latest user message."),
	},
}

var supportReplyOutput = schema.Schema{
	Name:        "psychologicalSupportAssistantOutput",
	Description: "A supportive reply and the insights inferred from the conversation.",
	Fields: []schema.Field{
		schema.String("aiResponse", "The AI response to the user message."),
		schema.String("psychologicalInsights", "Psychological insights inferred from the user data and conversation."),
	},
}

// NewSupportReply builds the support reply flow.
func NewSupportReply(invoker Invoker, renderer *prompt.Renderer) *Flow[SupportReplyInput, SupportReplyOutput] {
	return &Flow[SupportReplyInput, SupportReplyOutput]{
		template: prompt.SupportReply,
		input:    supportReplyInput,
		output:   supportReplyOutput,
		slots: func(rec schema.Record) prompt.Slots {
			return prompt.Slots{
				"surveyData":          rec.String("surveyData"),
				"conversationHistory": rec.String("conversationHistory"),
				"userMessage":         rec.String("userMessage"),
			}
		},
		result: func(rec schema.Record) SupportReplyOutput {
			return SupportReplyOutput{
				AIResponse:            rec.String("aiResponse"),
				PsychologicalInsights: rec.String("psychologicalInsights"),
			}
		},
		invoker:  invoker,
		renderer: renderer,
	}
}
