package exam

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"examtutor/internal/model"
)

const sampleExam = `{
  "exam_info": {"title": "期中测验", "subject": "数学"},
  "questions": [
    {"content": "1+1=?", "options": {"A": "1", "B": "2"}, "answer": "B", "question_type": "单选题", "score": 5},
    {"content": "简述微积分基本定理", "answer": "略", "question_type": "主观题", "score": 10}
  ]
}`

func TestParse(t *testing.T) {
	exam, err := Parse([]byte(sampleExam))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if exam.Info.Title != "期中测验" {
		t.Errorf("title = %q", exam.Info.Title)
	}
	if len(exam.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(exam.Questions))
	}
	if !exam.Questions[0].Objective() {
		t.Error("choice question not recognized as objective")
	}
	if exam.Questions[1].Objective() {
		t.Error("subjective question misclassified")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "hello"},
		{"no questions", `{"exam_info": {"title": "t"}, "questions": []}`},
		{"blank content", `{"questions": [{"content": "  ", "answer": "a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFileSetsFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "final-exam.json")
	if err := os.WriteFile(path, []byte(sampleExam), 0o644); err != nil {
		t.Fatal(err)
	}
	exam, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if exam.Filename != "final-exam" {
		t.Errorf("filename = %q, want %q", exam.Filename, "final-exam")
	}
	if exam.ExamKey() != "final-exam" {
		t.Errorf("exam key = %q", exam.ExamKey())
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.JSON", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	want := []string{"a.JSON", "b.json"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestShuffleKeepsOriginalIndexMapping(t *testing.T) {
	questions := []model.Question{
		{Content: "q0"}, {Content: "q1"}, {Content: "q2"}, {Content: "q3"}, {Content: "q4"},
	}
	order := Shuffle(questions, rand.New(rand.NewSource(42)))
	if len(order) != len(questions) {
		t.Fatalf("order length %d", len(order))
	}
	seen := make(map[int]bool)
	for pos, orig := range order {
		if seen[orig] {
			t.Fatalf("original index %d mapped twice", orig)
		}
		seen[orig] = true
		want := model.Question{Content: "q" + string(rune('0'+orig))}
		if questions[pos].Content != want.Content {
			t.Errorf("position %d holds %q, mapping says original %d", pos, questions[pos].Content, orig)
		}
	}
}
