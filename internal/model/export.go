package model

import "time"

// ChatExport is the top-level JSON structure for transcript export.
type ChatExport struct {
	ExamKey    string         `json:"exam_key"`
	ExportedAt time.Time      `json:"exported_at"`
	Records    []RecordExport `json:"records"`
}

// RecordExport holds one question's exported transcript.
type RecordExport struct {
	QuestionIndex int       `json:"question_index"`
	Messages      []Message `json:"messages"`
	Content       string    `json:"content"`
	LastUpdated   time.Time `json:"last_updated"`
}
