package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

var questionSetSchema = &Schema{
	Name: "question_set",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"questionText":       map[string]any{"type": "string"},
						"options":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"correctAnswerIndex": map[string]any{"type": "integer"},
						"expectedAnswer":     map[string]any{"type": "string"},
						"explanation":        map[string]any{"type": "string"},
						"concept":            map[string]any{"type": "string"},
						"points":             map[string]any{"type": "integer"},
					},
					"required": []string{"questionText"},
				},
			},
		},
		"required": []string{"questions"},
	},
}

var typeInstructions = map[domain.QuestionType]string{
	domain.QuestionMCQ: `multiple-choice questions. Each has exactly 4 concrete options ` +
		`and "correctAnswerIndex" (0-3). Never use placeholder options such as "Option A".`,
	domain.QuestionShortAnswer:    `short-answer questions that test recall and comprehension. Each has an "expectedAnswer".`,
	domain.QuestionProblemSolving: `problem-solving questions that apply the material. Each has an "expectedAnswer" describing a full solution.`,
}

var difficultyNames = map[int]string{1: "easy", 2: "medium", 3: "hard"}

// Generator asks the completion client for questions of one type.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Name() string { return "llm" }

func (g *Generator) Generate(ctx context.Context, req app.GenerationRequest) ([]domain.TestQuestion, error) {
	instr, ok := typeInstructions[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown question type %q", domain.ErrValidation, req.Type)
	}
	system := `You write assessment questions strictly from the supplied study material. ` +
		`Reply with a JSON object {"questions": [...]}.`
	user := fmt.Sprintf("Write %d %s %s\nKey concepts: %s\n\nMaterial:\n%s",
		req.Count, difficultyNames[domain.ClampDifficulty(req.Difficulty)], instr,
		strings.Join(req.Concepts, ", "), req.Transcript)

	raw, err := g.client.Complete(ctx, system, user, questionSetSchema)
	if err != nil {
		return nil, err
	}
	var set struct {
		Questions []domain.TestQuestion `json:"questions"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, &ErrInvalidResponse{Content: raw, Err: err}
	}
	for i := range set.Questions {
		set.Questions[i].Type = req.Type
	}
	return set.Questions, nil
}
