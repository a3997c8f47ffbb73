package exam

import (
	"context"
	"sort"
	"strings"

	"examtutor/internal/llm"
	"examtutor/internal/model"
)

// SubjectiveGrader scores a free-text answer against a reference
// answer. Satisfied by *llm.Grader.
type SubjectiveGrader interface {
	GradeSubjective(ctx context.Context, questionContent, referenceAnswer, userAnswer string) (*llm.GradeResult, error)
}

// QuestionResult is the scored outcome of one question.
type QuestionResult struct {
	Index   int              `json:"index"`
	Earned  float64          `json:"earned"`
	Max     float64          `json:"max"`
	Correct bool             `json:"correct"`
	Grade   *llm.GradeResult `json:"grade,omitempty"`
}

// ExamResult aggregates per-question outcomes.
type ExamResult struct {
	Earned    float64          `json:"earned"`
	Max       float64          `json:"max"`
	Questions []QuestionResult `json:"questions"`
}

// normalizeChoice reduces a recorded choice answer to a canonical
// form: option keys extracted, uppercased, sorted, joined. "BA",
// "A,B" and "ab" all normalize to "AB", so multi-choice comparison is
// order-insensitive.
func normalizeChoice(answer string) string {
	var keys []string
	for _, part := range strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == '，' || r == ' ' || r == ';'
	}) {
		for _, r := range strings.ToUpper(strings.TrimSpace(part)) {
			keys = append(keys, string(r))
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, "")
}

// ScoreObjective scores a choice question: full marks on an exact
// option-set match, zero otherwise.
func ScoreObjective(q model.Question, userAnswer string) QuestionResult {
	correct := userAnswer != "" && normalizeChoice(userAnswer) == normalizeChoice(q.Answer)
	earned := 0.0
	if correct {
		earned = q.Score
	}
	return QuestionResult{Earned: earned, Max: q.Score, Correct: correct}
}

// ScoreSubjective scores a free-text question. A blank answer earns
// zero without calling the grader. Otherwise the grader's ratio is
// applied to the question's point value; grader transport failures
// propagate so the caller can retry.
func ScoreSubjective(ctx context.Context, g SubjectiveGrader, q model.Question, userAnswer string) (QuestionResult, error) {
	if strings.TrimSpace(userAnswer) == "" {
		return QuestionResult{Earned: 0, Max: q.Score}, nil
	}
	grade, err := g.GradeSubjective(ctx, q.Content, q.Answer, userAnswer)
	if err != nil {
		return QuestionResult{Max: q.Score}, err
	}
	return QuestionResult{
		Earned:  grade.Score * q.Score,
		Max:     q.Score,
		Correct: grade.Score >= 0.6,
		Grade:   grade,
	}, nil
}

// Score grades a whole submission. answers yields the recorded answer
// for a question by its original index, "" for unanswered. Objective
// questions are scored locally; subjective ones go through the grader.
func Score(ctx context.Context, g SubjectiveGrader, exam *model.Exam, answers func(int) string) (*ExamResult, error) {
	result := &ExamResult{}
	for i, q := range exam.Questions {
		var (
			qr  QuestionResult
			err error
		)
		if q.Objective() {
			qr = ScoreObjective(q, answers(i))
		} else {
			qr, err = ScoreSubjective(ctx, g, q, answers(i))
			if err != nil {
				return nil, err
			}
		}
		qr.Index = i
		result.Earned += qr.Earned
		result.Max += qr.Max
		result.Questions = append(result.Questions, qr)
	}
	return result, nil
}
