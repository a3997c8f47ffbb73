// Package prompts builds the user prompts for question explanations.
//
// Templates use {placeholder} substitution rather than text/template:
// the syntax is part of the user-editable template format, and unknown
// placeholders must pass through untouched instead of failing a parse.
package prompts

import (
	"sort"
	"strings"

	"examtutor/internal/model"
)

// Default templates. The choice template is used when the question has
// an option set, the subjective template otherwise.
const (
	DefaultChoiceTemplate = `题目：{content}

选项：
{options}

参考答案：{answer}

我的答案：{userAnswer}

请解析这道题，说明正确答案的理由，并指出我的答案是否正确。`

	DefaultSubjectiveTemplate = `题目：{content}

参考答案：{answer}

我的答案：{userAnswer}

请解析这道题，对照参考答案点评我的答案。`

	// System instructions sent with every request; never persisted.
	ExplainSystemPrompt = "你是专业的考试解析老师，输出清晰、简洁的解析，可以使用 Markdown 格式化输出。"
	ChatSystemPrompt    = "你是专业的考试解析老师，可以回答关于题目的各种问题，使用 Markdown 格式化输出。"

	noAnswerSentinel  = "未作答"
	noReferenceAnswer = "未提供参考答案"
)

// Templates holds the two explanation templates. Zero values fall
// back to the defaults.
type Templates struct {
	Choice     string
	Subjective string
}

func (t Templates) choice() string {
	if t.Choice != "" {
		return t.Choice
	}
	return DefaultChoiceTemplate
}

func (t Templates) subjective() string {
	if t.Subjective != "" {
		return t.Subjective
	}
	return DefaultSubjectiveTemplate
}

// Substitute replaces each {key} in template with its value. A
// provided variable with an empty value substitutes the empty string;
// placeholders for variables not in the map are left as-is.
func Substitute(template string, variables map[string]string) string {
	result := template
	for key, value := range variables {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}

// BuildExplanation renders the initial-explanation prompt for a
// question, selecting the choice or subjective template by the
// presence of options. userAnswer is the caller's recorded answer
// ("" means not answered). All four placeholders are always bound, so
// a custom template may use any of them; {options} is empty for
// subjective questions.
func BuildExplanation(t Templates, q model.Question, userAnswer string) string {
	vars := map[string]string{
		"content":    q.Content,
		"options":    "",
		"answer":     q.Answer,
		"userAnswer": userAnswer,
	}
	if vars["answer"] == "" {
		vars["answer"] = noReferenceAnswer
	}
	if vars["userAnswer"] == "" {
		vars["userAnswer"] = noAnswerSentinel
	}

	template := t.subjective()
	if q.Objective() {
		template = t.choice()
		vars["options"] = FormatOptions(q.Options)
	}
	return Substitute(template, vars)
}

// FormatOptions renders an option set as "K. text" lines in key order.
func FormatOptions(options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(k + ". " + options[k])
	}
	return sb.String()
}

// JoinAnswer normalizes a possibly multi-valued recorded answer into
// display form.
func JoinAnswer(parts []string) string {
	return strings.Join(parts, ", ")
}
