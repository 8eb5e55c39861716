package flow

import (
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/prompt"
	"github.com/BTreeMap/CicekTerapi/internal/schema"
)

// SurveySnapshot is the survey as the insight prompt sees it. List answers
// are joined into a single string by the caller.
type SurveySnapshot struct {
	HealthStatus        string `json:"healthStatus"`
	DailyLifeChallenges string `json:"dailyLifeChallenges"`
	HelpSeekingBarriers string `json:"helpSeekingBarriers"`
}

// PastMessage is one prior conversation turn.
type PastMessage struct {
	Sender  models.Sender `json:"sender"`
	Content string        `json:"content"`
}

// SurveyInsightsInput is the survey plus past messages in conversation order.
type SurveyInsightsInput struct {
	SurveyData   SurveySnapshot `json:"surveyData"`
	PastMessages []PastMessage  `json:"pastMessages"`
}

func (in SurveyInsightsInput) Record() schema.Record {
	messages := make([]any, 0, len(in.PastMessages))
	for _, m := range in.PastMessages {
		messages = append(messages, schema.Record{"sender": string(m.Sender), "content": m.Content})
	}
	return schema.Record{
		"surveyData": schema.Record{
			"healthStatus":        in.SurveyData.HealthStatus,
			"dailyLifeChallenges": in.SurveyData.DailyLifeChallenges,
			"helpSeekingBarriers": in.SurveyData.HelpSeekingBarriers,
		},
		"pastMessages": messages,
	}
}

// SurveyInsightsOutput is the inferred state and the suggested support.
type SurveyInsightsOutput struct {
	PsychologicalInsights string `json:"psychologicalInsights"`
	SuggestedSupport      string `json:"suggestedSupport"`
}

var surveyInsightsInput = schema.Schema{
	Name: "surveyInsightsInput",
	Fields: []schema.Field{
		schema.Object("surveyData", "The user survey data.",
			schema.String("healthStatus", "The health status of the user."),
			schema.String("dailyLifeChallenges", "Challenges the user faces in daily life."),
			schema.String("helpSeekingBarriers", "Barriers preventing the user from seeking help."),
		),
		schema.ArrayOf("pastMessages", "Past conversation messages between the user and the assistant.",
			schema.Object("", "",
				schema.Enum("sender", "The sender of the message.", string(models.SenderUser), string(models.SenderAssistant)),
				schema.String("content", "The content of the message."),
			),
		),
	},
}

var surveyInsightsOutput = schema.Schema{
	Name:        "surveyInsightsOutput",
	Description: "Insights inferred from the survey and past conversations.",
	Fields: []schema.Field{
		schema.String("psychologicalInsights", "Psychological insights inferred from the survey data and past conversations."),
		schema.String("suggestedSupport", "Suggested support and guidance based on the inferred insights."),
	},
}

// pastMessagesIndent matches the indentation of the message block in the
// insight template.
const pastMessagesIndent = "  "

// NewSurveyInsights builds the survey insight inference flow.
func NewSurveyInsights(invoker Invoker, renderer *prompt.Renderer) *Flow[SurveyInsightsInput, SurveyInsightsOutput] {
	return &Flow[SurveyInsightsInput, SurveyInsightsOutput]{
		template: prompt.SurveyInsights,
		input:    surveyInsightsInput,
		output:   surveyInsightsOutput,
		slots: func(rec schema.Record) prompt.Slots {
			survey := rec.Object("surveyData")
			past := rec.List("pastMessages")
			lines := make([]prompt.Line, 0, len(past))
			for _, m := range past {
				lines = append(lines, prompt.Line{Label: m.String("sender"), Text: m.String("content")})
			}
			return prompt.Slots{
				"surveyData.healthStatus":        survey.String("healthStatus"),
				"surveyData.dailyLifeChallenges": survey.String("dailyLifeChallenges"),
				"surveyData.helpSeekingBarriers": survey.String("helpSeekingBarriers"),
				"pastMessages":                   prompt.Lines(pastMessagesIndent, lines),
			}
		},
		result: func(rec schema.Record) SurveyInsightsOutput {
			return SurveyInsightsOutput{
				PsychologicalInsights: rec.String("psychologicalInsights"),
				SuggestedSupport:      rec.String("suggestedSupport"),
			}
		},
		invoker:  invoker,
		renderer: renderer,
	}
}
