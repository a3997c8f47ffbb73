package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"examtutor/internal/model"
)

func unmarshalMessages(raw string, out *[]model.Message) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal messages: %w", err)
	}
	return nil
}

// ExportExam collects every stored transcript for an exam into the
// export structure, ordered by question index.
func (s *Store) ExportExam(examKey string) (*model.ChatExport, error) {
	rows, err := s.db.Query(
		`SELECT question_index, messages, content, last_updated
		 FROM chat_records WHERE exam_id = ? ORDER BY question_index`, examKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat records: %w", err)
	}
	defer rows.Close()

	export := &model.ChatExport{
		ExamKey:    examKey,
		ExportedAt: time.Now(),
	}
	for rows.Next() {
		var rec model.RecordExport
		var raw string
		var updated int64
		if err := rows.Scan(&rec.QuestionIndex, &raw, &rec.Content, &updated); err != nil {
			return nil, err
		}
		if err := unmarshalMessages(raw, &rec.Messages); err != nil {
			return nil, err
		}
		rec.LastUpdated = time.UnixMilli(updated)
		export.Records = append(export.Records, rec)
	}
	return export, rows.Err()
}

// ListExamKeys returns the distinct exam keys with stored records,
// sorted alphabetically.
func (s *Store) ListExamKeys() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT exam_id FROM chat_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}
