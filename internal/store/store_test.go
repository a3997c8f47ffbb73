package store

import (
	"testing"

	"examtutor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMessages() []model.Message {
	return []model.Message{
		{ID: 1, Role: model.RoleAssistant, Content: "这道题考察闭包"},
		{ID: 2, Role: model.RoleUser, Content: "能举个例子吗"},
		{ID: 3, Role: model.RoleAssistant, Content: "例如计数器函数"},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	msgs := sampleMessages()
	if err := s.Put("期中测验", 3, msgs, "例如计数器函数"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec, err := s.Get("期中测验", 3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("record not found after Put")
	}
	if rec.ID != model.RecordID("期中测验", 3) {
		t.Errorf("id = %q", rec.ID)
	}
	if rec.ExamID != "期中测验" || rec.QuestionIndex != 3 {
		t.Errorf("identity = (%q, %d)", rec.ExamID, rec.QuestionIndex)
	}
	if len(rec.Messages) != len(msgs) {
		t.Fatalf("got %d messages, want %d", len(rec.Messages), len(msgs))
	}
	for i, m := range rec.Messages {
		if m != msgs[i] {
			t.Errorf("message %d = %+v, want %+v", i, m, msgs[i])
		}
	}
	if rec.Content != "例如计数器函数" {
		t.Errorf("content = %q", rec.Content)
	}
	if rec.LastUpdated == 0 {
		t.Error("last updated not set")
	}
}

func TestPutOverwritesExisting(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("exam", 0, sampleMessages(), "old"); err != nil {
		t.Fatal(err)
	}
	newMsgs := []model.Message{{ID: 1, Role: model.RoleAssistant, Content: "fresh"}}
	if err := s.Put("exam", 0, newMsgs, "fresh"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get("exam", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Messages) != 1 || rec.Content != "fresh" {
		t.Errorf("record not overwritten: %+v", rec)
	}

	count, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("got %d records, want 1", count)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Get("nope", 0)
	if err != nil {
		t.Fatalf("Get on missing record: %v", err)
	}
	if rec != nil {
		t.Fatalf("got %+v, want nil", rec)
	}
}

func TestGetAllForExam(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Put("examA", i, sampleMessages(), "replyA"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put("examB", 0, sampleMessages(), "replyB"); err != nil {
		t.Fatal(err)
	}

	all, err := s.GetAllForExam("examA")
	if err != nil {
		t.Fatalf("GetAllForExam: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	for i := 0; i < 3; i++ {
		detail, ok := all[i]
		if !ok {
			t.Errorf("question %d missing", i)
			continue
		}
		if detail.Content != "replyA" {
			t.Errorf("question %d content = %q", i, detail.Content)
		}
	}
}

func TestDeleteAllForExamIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.Put("exam", i, sampleMessages(), "reply"); err != nil {
			t.Fatal(err)
		}
	}

	count, err := s.DeleteAllForExam("exam")
	if err != nil {
		t.Fatalf("DeleteAllForExam: %v", err)
	}
	if count != 2 {
		t.Errorf("deleted %d, want 2", count)
	}

	// Second delete finds nothing and still succeeds.
	count, err = s.DeleteAllForExam("exam")
	if err != nil {
		t.Fatalf("repeat DeleteAllForExam: %v", err)
	}
	if count != 0 {
		t.Errorf("repeat deleted %d, want 0", count)
	}
}

func TestDeleteOne(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("exam", 0, sampleMessages(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("exam", 1, sampleMessages(), "b"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteOne("exam", 0); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if rec, _ := s.Get("exam", 0); rec != nil {
		t.Error("record 0 still present")
	}
	if rec, _ := s.Get("exam", 1); rec == nil {
		t.Error("record 1 deleted by mistake")
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)

	s.Put("a", 0, sampleMessages(), "x")
	s.Put("b", 0, sampleMessages(), "y")

	count, err := s.ClearAll()
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if count != 2 {
		t.Errorf("cleared %d, want 2", count)
	}
	total, _ := s.Stats()
	if total != 0 {
		t.Errorf("%d records remain", total)
	}
}

func TestPutNilMessagesStoresEmptyList(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("exam", 0, nil, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, err := s.Get("exam", 0)
	if err != nil || rec == nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Messages == nil {
		t.Error("messages should round-trip as empty, not nil")
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("schema_version")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "1" {
		t.Errorf("schema_version = %q, want 1", v)
	}

	if err := s.SetMetadata("theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetMetadata("theme"); got != "dark" {
		t.Errorf("theme = %q", got)
	}
}
