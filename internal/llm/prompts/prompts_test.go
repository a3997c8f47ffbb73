package prompts

import (
	"strings"
	"testing"

	"examtutor/internal/model"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "basic substitution",
			template: "题目：{content}，答案：{answer}",
			vars:     map[string]string{"content": "1+1", "answer": "2"},
			want:     "题目：1+1，答案：2",
		},
		{
			name:     "empty value substitutes empty",
			template: "答：{userAnswer}。",
			vars:     map[string]string{"userAnswer": ""},
			want:     "答：。",
		},
		{
			name:     "unknown placeholder passes through",
			template: "{content} {mystery}",
			vars:     map[string]string{"content": "x"},
			want:     "x {mystery}",
		},
		{
			name:     "repeated placeholder",
			template: "{a}{a}",
			vars:     map[string]string{"a": "y"},
			want:     "yy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Substitute(tt.template, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildExplanationChoice(t *testing.T) {
	q := model.Question{
		Content:      "Go 的零值是什么？",
		Options:      map[string]string{"B": "类型相关", "A": "都是nil"},
		Answer:       "B",
		QuestionType: model.QuestionSingleChoice,
	}
	got := BuildExplanation(Templates{}, q, "A")

	if !strings.Contains(got, "Go 的零值是什么？") {
		t.Error("content missing")
	}
	// Options render sorted by key, one per line.
	if !strings.Contains(got, "A. 都是nil\nB. 类型相关") {
		t.Errorf("options not formatted in key order:\n%s", got)
	}
	if !strings.Contains(got, "参考答案：B") {
		t.Error("reference answer missing")
	}
	if !strings.Contains(got, "我的答案：A") {
		t.Error("user answer missing")
	}
}

func TestBuildExplanationSubjective(t *testing.T) {
	q := model.Question{
		Content:      "简述接口的作用",
		Answer:       "解耦",
		QuestionType: model.QuestionSubjective,
	}
	got := BuildExplanation(Templates{}, q, "")

	if strings.Contains(got, "选项") {
		t.Error("subjective prompt should not include an options section")
	}
	if !strings.Contains(got, "我的答案：未作答") {
		t.Errorf("unanswered should use the sentinel:\n%s", got)
	}
}

func TestBuildExplanationMissingReferenceAnswer(t *testing.T) {
	q := model.Question{Content: "开放题", QuestionType: model.QuestionSubjective}
	got := BuildExplanation(Templates{}, q, "我的看法")

	if !strings.Contains(got, "参考答案：未提供参考答案") {
		t.Errorf("missing reference answer should use the sentinel:\n%s", got)
	}
	if !strings.Contains(got, "我的答案：我的看法") {
		t.Error("user answer missing")
	}
}

func TestCustomTemplatesOverrideDefaults(t *testing.T) {
	tpl := Templates{
		Choice:     "CHOICE {content}",
		Subjective: "SUBJ {content}",
	}
	choice := model.Question{Content: "c", Options: map[string]string{"A": "1"}}
	subj := model.Question{Content: "s"}

	if got := BuildExplanation(tpl, choice, ""); !strings.HasPrefix(got, "CHOICE") {
		t.Errorf("choice template not used: %q", got)
	}
	if got := BuildExplanation(tpl, subj, ""); !strings.HasPrefix(got, "SUBJ") {
		t.Errorf("subjective template not used: %q", got)
	}
}

func TestAllPlaceholdersBoundForSubjective(t *testing.T) {
	// A custom subjective template may reference {options}; without an
	// option set it substitutes empty rather than surviving literally.
	tpl := Templates{Subjective: "[{options}] {content}"}
	q := model.Question{Content: "开放题"}

	if got := BuildExplanation(tpl, q, ""); got[:2] != "[]" {
		t.Errorf("options placeholder not emptied: %q", got)
	}
}

func TestJoinAnswer(t *testing.T) {
	if got := JoinAnswer([]string{"A", "C"}); got != "A, C" {
		t.Errorf("JoinAnswer = %q", got)
	}
	if got := JoinAnswer(nil); got != "" {
		t.Errorf("JoinAnswer(nil) = %q", got)
	}
}
