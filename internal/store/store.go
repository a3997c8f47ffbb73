package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"examtutor/internal/model"

	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// Store is the durable conversation store. Records are complete
// transcripts written wholesale; there is no partial-record mutation,
// so concurrent readers never observe a half-updated conversation.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_records (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		messages TEXT NOT NULL DEFAULT '[]',
		content TEXT NOT NULL DEFAULT '',
		last_updated INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_records_exam_id ON chat_records(exam_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_records_exam_question ON chat_records(exam_id, question_index);

	CREATE TABLE IF NOT EXISTS api_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		api_url TEXT NOT NULL DEFAULT '',
		api_model TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.SetMetadata("schema_version", schemaVersion)
}

// Put upserts the complete transcript for one question of one exam.
// It is idempotent: a second call with the same arguments leaves the
// record unchanged except for the last-updated timestamp.
func (s *Store) Put(examKey string, questionIndex int, messages []model.Message, content string) error {
	if messages == nil {
		messages = []model.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO chat_records (id, exam_id, question_index, messages, content, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET messages = excluded.messages,
		     content = excluded.content, last_updated = excluded.last_updated`,
		model.RecordID(examKey, questionIndex), examKey, questionIndex,
		string(data), content, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put chat record: %w", err)
	}
	return nil
}

// Get returns the record for one question, or nil when none exists.
// A missing key is not an error.
func (s *Store) Get(examKey string, questionIndex int) (*model.ChatRecord, error) {
	var rec model.ChatRecord
	var raw string
	err := s.db.QueryRow(
		`SELECT id, exam_id, question_index, messages, content, last_updated
		 FROM chat_records WHERE id = ?`,
		model.RecordID(examKey, questionIndex),
	).Scan(&rec.ID, &rec.ExamID, &rec.QuestionIndex, &raw, &rec.Content, &rec.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat record: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &rec.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return &rec, nil
}

// GetAllForExam returns every stored transcript for an exam, keyed by
// question index. Used to hydrate a whole exam's chat state on load.
func (s *Store) GetAllForExam(examKey string) (map[int]model.ChatDetail, error) {
	rows, err := s.db.Query(
		`SELECT question_index, messages, content FROM chat_records WHERE exam_id = ?`, examKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat records: %w", err)
	}
	defer rows.Close()

	details := make(map[int]model.ChatDetail)
	for rows.Next() {
		var idx int
		var raw string
		var detail model.ChatDetail
		if err := rows.Scan(&idx, &raw, &detail.Content); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &detail.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages for question %d: %w", idx, err)
		}
		details[idx] = detail
	}
	return details, rows.Err()
}

// DeleteAllForExam removes every record under an exam and returns the
// number deleted. Deleting an exam with no records returns 0.
func (s *Store) DeleteAllForExam(examKey string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM chat_records WHERE exam_id = ?`, examKey)
	if err != nil {
		return 0, fmt.Errorf("delete chat records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteOne removes a single question's record.
func (s *Store) DeleteOne(examKey string, questionIndex int) error {
	_, err := s.db.Exec(`DELETE FROM chat_records WHERE id = ?`, model.RecordID(examKey, questionIndex))
	if err != nil {
		return fmt.Errorf("delete chat record: %w", err)
	}
	return nil
}

// ClearAll wipes chat records for every exam and returns the count.
func (s *Store) ClearAll() (int, error) {
	res, err := s.db.Exec(`DELETE FROM chat_records`)
	if err != nil {
		return 0, fmt.Errorf("clear chat records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats returns the total number of stored chat records.
func (s *Store) Stats() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_records`).Scan(&count)
	return count, err
}

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
