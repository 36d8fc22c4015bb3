package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"study-session-engine/internal/app"
)

var assessmentSchema = &Schema{
	Name: "answer_assessment",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":      map[string]any{"type": "number", "minimum": 0},
			"isCorrect":  map[string]any{"type": "boolean"},
			"feedback":   map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []string{"score", "isCorrect", "feedback"},
	},
}

const evaluatorSystem = `You grade a learner's answer against a reference answer.
Reply with a JSON object: {"score": 0-100, "isCorrect": bool, "feedback": string, "confidence": 0-1}.
Grade meaning, not wording. Keep feedback to one or two sentences addressed to the learner.`

// Evaluator grades open answers through the completion client.
type Evaluator struct {
	client *Client
}

func NewEvaluator(client *Client) *Evaluator {
	return &Evaluator{client: client}
}

func (e *Evaluator) Assess(ctx context.Context, req app.AssessRequest) (app.Assessment, error) {
	user := fmt.Sprintf("Question type: %s\nQuestion: %s\nReference answer: %s\nLearner answer: %s",
		req.Type, req.QuestionText, req.ExpectedAnswer, req.UserAnswer)
	raw, err := e.client.Complete(ctx, evaluatorSystem, user, assessmentSchema)
	if err != nil {
		return app.Assessment{}, err
	}
	var out app.Assessment
	if err := json.Unmarshal(raw, &out); err != nil {
		return app.Assessment{}, &ErrInvalidResponse{Content: raw, Err: err}
	}
	return out, nil
}
