package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Role represents a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a question's conversation. ID is an
// ordinal assigned at creation and never reused within a conversation,
// so retry can address a message without relying on display position.
type Message struct {
	ID      int64  `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRecord is the durable transcript for one question of one exam.
type ChatRecord struct {
	ID            string    `json:"id"`
	ExamID        string    `json:"examId"`
	QuestionIndex int       `json:"questionIndex"`
	Messages      []Message `json:"messages"`
	// Content mirrors the content of the last assistant message, or ""
	// if the transcript holds none.
	Content     string `json:"content"`
	LastUpdated int64  `json:"lastUpdated"` // epoch milliseconds
}

// ChatDetail is the portion of a ChatRecord callers need when
// hydrating a panel: the transcript plus the denormalized last reply.
type ChatDetail struct {
	Messages []Message `json:"messages"`
	Content  string    `json:"content"`
}

// LatestAssistantContent returns the content of the last
// assistant-role message in msgs, or "" when there is none.
func LatestAssistantContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

// QuestionType distinguishes how a question is answered and scored.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "单选题"
	QuestionMultiChoice  QuestionType = "多选题"
	QuestionSubjective   QuestionType = "主观题"
)

// Question is one exam question. Options is nil for subjective
// (free-text) questions; its presence marks the question objective.
type Question struct {
	Content      string            `json:"content"`
	Options      map[string]string `json:"options,omitempty"`
	Answer       string            `json:"answer"`
	QuestionType QuestionType      `json:"question_type"`
	Score        float64           `json:"score"`
}

// Objective reports whether the question has a fixed option set.
func (q Question) Objective() bool {
	return len(q.Options) > 0
}

// ExamInfo is exam metadata as declared in the exam file.
type ExamInfo struct {
	Title   string `json:"title"`
	Subject string `json:"subject"`
}

// Exam is a loaded exam paper. Filename is the source file's base name
// without extension; it takes priority over the title when deriving
// the exam key.
type Exam struct {
	Filename  string     `json:"filename"`
	Info      ExamInfo   `json:"exam_info"`
	Questions []Question `json:"questions"`
}

// unsafeKeyChars matches every character that may not appear in an
// exam key: anything outside ASCII letters, digits, underscore,
// hyphen, and the CJK unified ideographs block.
var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_\-\x{4e00}-\x{9fa5}]`)

// ExamKey derives the durable storage identity for an exam. The
// filename wins over the declared title; a fixed literal covers exams
// with neither. The derivation is pure, so the same exam maps to the
// same key across sessions. Distinct identities that differ only in
// replaced characters can collide; that is accepted.
func (e Exam) ExamKey() string {
	identifier := e.Filename
	if identifier == "" {
		identifier = e.Info.Title
	}
	if identifier == "" {
		identifier = "unknown_exam"
	}
	return unsafeKeyChars.ReplaceAllString(identifier, "_")
}

// RecordID builds the synthetic primary key for one question's record.
func RecordID(examKey string, questionIndex int) string {
	return fmt.Sprintf("%s_q%d", examKey, questionIndex)
}

// FilenameFromPath extracts the exam filename from a path: base name,
// query string and .json extension stripped.
func FilenameFromPath(path string) string {
	normalized := path
	if i := strings.IndexByte(normalized, '?'); i >= 0 {
		normalized = normalized[:i]
	}
	if i := strings.LastIndexAny(normalized, `/\`); i >= 0 {
		normalized = normalized[i+1:]
	}
	if strings.HasSuffix(strings.ToLower(normalized), ".json") {
		normalized = normalized[:len(normalized)-len(".json")]
	}
	return normalized
}

// APIConfig is one saved completion-endpoint profile. Exactly one
// profile is active at a time.
type APIConfig struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
	Model  string `json:"api_model"`
	Active bool   `json:"active"`
}
