package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"study-session-engine/internal/domain"
)

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// TemplateGenerator derives questions from the transcript and concept list
// without any external service. It is the last link of the provider chain.
type TemplateGenerator struct{}

func (TemplateGenerator) Name() string { return "template" }

func (t TemplateGenerator) Generate(_ context.Context, req GenerationRequest) ([]domain.TestQuestion, error) {
	concepts := distinctConcepts(req.Concepts)
	switch req.Type {
	case domain.QuestionMCQ:
		return templateMCQ(req.Transcript, concepts, req.Count), nil
	case domain.QuestionShortAnswer:
		return templateOpen(concepts, req.Count, domain.QuestionShortAnswer), nil
	case domain.QuestionProblemSolving:
		return templateOpen(concepts, req.Count, domain.QuestionProblemSolving), nil
	}
	return nil, fmt.Errorf("%w: unknown question type %q", domain.ErrValidation, req.Type)
}

func distinctConcepts(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if len(c) <= 2 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// templateMCQ asks which concept a passage is about. The distractors are
// other concepts, so at least four distinct concepts are required.
func templateMCQ(transcript string, concepts []string, count int) []domain.TestQuestion {
	if len(concepts) < 4 {
		return nil
	}
	var questions []domain.TestQuestion
	for _, sentence := range sentenceSplit.Split(transcript, -1) {
		if len(questions) >= count {
			break
		}
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 20 {
			continue
		}
		lower := strings.ToLower(sentence)
		answer := -1
		for i, c := range concepts {
			if strings.Contains(lower, strings.ToLower(c)) {
				answer = i
				break
			}
		}
		if answer < 0 {
			continue
		}

		options := make([]string, 0, 4)
		correct := len(questions) % 4
		for j := 1; len(options) < 3; j++ {
			options = append(options, concepts[(answer+j)%len(concepts)])
		}
		options = append(options[:correct], append([]string{concepts[answer]}, options[correct:]...)...)

		passage := sentence
		if len(passage) > 160 {
			passage = passage[:160] + "..."
		}
		idx := correct
		questions = append(questions, domain.TestQuestion{
			Type:         domain.QuestionMCQ,
			Text:         fmt.Sprintf("Which concept does this passage describe: %q?", passage),
			Options:      options,
			CorrectIndex: &idx,
			Explanation:  fmt.Sprintf("The passage discusses %s.", concepts[answer]),
			Concept:      concepts[answer],
			Points:       domain.QuestionMCQ.DefaultPoints(),
		})
	}
	return questions
}

func templateOpen(concepts []string, count int, t domain.QuestionType) []domain.TestQuestion {
	if len(concepts) == 0 {
		concepts = []string{"General"}
	}
	questions := make([]domain.TestQuestion, 0, count)
	for i := 0; i < count; i++ {
		concept := concepts[i%len(concepts)]
		q := domain.TestQuestion{Type: t, Concept: concept, Points: t.DefaultPoints()}
		if t == domain.QuestionShortAnswer {
			q.Text = fmt.Sprintf("Explain the concept of %s based on the content you studied.", concept)
			q.ExpectedAnswer = fmt.Sprintf("A comprehensive explanation of %s covering key points from the content.", concept)
			q.Explanation = fmt.Sprintf("This question tests recall and comprehension of %s.", concept)
		} else {
			q.Text = fmt.Sprintf("Apply your knowledge of %s to solve a practical problem. Describe your approach and solution.", concept)
			q.ExpectedAnswer = fmt.Sprintf("A detailed solution demonstrating application of %s principles.", concept)
			q.Explanation = fmt.Sprintf("This question tests application and problem-solving skills related to %s.", concept)
		}
		questions = append(questions, q)
	}
	return questions
}
