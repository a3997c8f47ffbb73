package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GradeResult holds the structured assessment of one subjective answer.
// Score is a ratio in [0, 1] of the question's point value.
type GradeResult struct {
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
	Strengths   string  `json:"strengths"`
	Weaknesses  string  `json:"weaknesses"`
	Suggestions string  `json:"suggestions"`
}

// Degraded reports whether the result was synthesized from an
// unparseable model response.
func (r GradeResult) Degraded() bool {
	return strings.HasPrefix(r.Reason, degradedReasonPrefix)
}

const (
	gradeSystemPrompt = `你是一个专业的考试评分助手。请根据参考答案评价学生答案的准确性和完整性，给出详细的评分依据。必须严格返回JSON格式，格式如下：{"score": 0.85, "reason": "评分理由", "strengths": "答案的优点", "weaknesses": "答案的不足", "suggestions": "改进建议"}。score为0-1之间的小数。`

	degradedReasonPrefix = "AI返回格式异常"
	fallbackScore        = 0.5
)

var (
	codeFenceRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	jsonObjRegex   = regexp.MustCompile(`\{[\s\S]*\}`)
	numberRegex    = regexp.MustCompile(`\d+\.?\d*`)
)

// Grader scores subjective answers against a reference answer via a
// non-streamed chat completion.
type Grader struct {
	api    *openai.Client
	apiKey string
	model  string
	logger *slog.Logger
}

// NewGrader creates a grader for an OpenAI-compatible endpoint. The
// URL may point directly at a chat/completions path; the suffix is
// stripped to recover the API base.
func NewGrader(ep Endpoint, logger *slog.Logger) *Grader {
	config := openai.DefaultConfig(ep.APIKey)
	if ep.URL != "" {
		config.BaseURL = strings.TrimSuffix(strings.TrimRight(ep.URL, "/"), "/chat/completions")
	}
	return &Grader{
		api:    openai.NewClientWithConfig(config),
		apiKey: ep.APIKey,
		model:  ep.Model,
		logger: logger.With(slog.String("module", "grader")),
	}
}

// GradeSubjective asks the model to score a free-text answer. A
// missing API key fails with ErrNoAPIKey before any network call. A
// response that cannot be parsed as the expected JSON object degrades
// to a best-effort numeric extraction rather than an error; only
// configuration and transport failures propagate.
func (g *Grader) GradeSubjective(ctx context.Context, questionContent, referenceAnswer, userAnswer string) (*GradeResult, error) {
	if g.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	userPrompt := fmt.Sprintf(
		"题目：%s\n\n参考答案：%s\n\n学生答案：%s\n\n请评分并给出详细评价（必须返回JSON格式）：",
		questionContent, referenceAnswer, userAnswer,
	)

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: gradeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   3000,
	})
	if err != nil {
		return nil, fmt.Errorf("grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("grading API returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	result := g.parseGradeResponse(raw)
	return result, nil
}

// parseGradeResponse extracts a GradeResult from the model's reply.
// Extraction order: fenced code block, then the first {...} span. On
// failure a degraded result is synthesized from the first number in
// the text; an out-of-range or non-numeric score becomes 0.5.
func (g *Grader) parseGradeResponse(raw string) *GradeResult {
	jsonText := raw
	if strings.Contains(raw, "```") {
		if m := codeFenceRegex.FindStringSubmatch(raw); m != nil {
			jsonText = strings.TrimSpace(m[1])
		}
	}

	var result GradeResult
	parsed := false
	if m := jsonObjRegex.FindString(jsonText); m != "" {
		if err := json.Unmarshal([]byte(m), &result); err == nil {
			parsed = true
		} else {
			g.logger.Warn("grading response JSON parse failed",
				slog.String("raw", raw),
				slog.String("error", err.Error()))
		}
	} else {
		g.logger.Warn("grading response contained no JSON object", slog.String("raw", raw))
	}

	if !parsed {
		score := fallbackScore
		if m := numberRegex.FindString(raw); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				if v > 1 {
					v /= 100
				}
				score = v
			}
		}
		result = GradeResult{
			Score:       score,
			Reason:      degradedReasonPrefix + "，原始内容：" + raw,
			Strengths:   "无法解析",
			Weaknesses:  "无法解析",
			Suggestions: "请检查API设置或稍后重试",
		}
	}

	if math.IsNaN(result.Score) || result.Score < 0 || result.Score > 1 {
		g.logger.Warn("grading score out of range", slog.Float64("score", result.Score))
		result.Score = fallbackScore
	}
	return &result
}
