package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateChinese(t *testing.T) {
	ctx := initLang(t, "zh")

	if got := T(ctx, "AppTitle"); got != "考试助手" {
		t.Errorf("T(AppTitle) = %q", got)
	}
	if got := T(ctx, "chat.retry_not_found"); got != "找不到要重新生成的消息" {
		t.Errorf("T(chat.retry_not_found) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "zh")
	ctx = WithLocalizer(ctx, NewLocalizer("en"))

	if got := T(ctx, "AppTitle"); got != "Exam Tutor" {
		t.Errorf("T(AppTitle) = %q, want 'Exam Tutor'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "zh")
	ctx = WithLocalizer(ctx, NewLocalizer("en"))

	if got := Tp(ctx, "chat.cleared", 1); got != "Cleared 1 conversation for this exam" {
		t.Errorf("Tp(chat.cleared, 1) = %q", got)
	}
	if got := Tp(ctx, "chat.cleared", 5); got != "Cleared 5 conversations for this exam" {
		t.Errorf("Tp(chat.cleared, 5) = %q", got)
	}
}

func TestMissingTranslationFallsBackToID(t *testing.T) {
	ctx := initLang(t, "zh")
	if got := T(ctx, "no.such.message"); got != "no.such.message" {
		t.Errorf("missing id should echo back, got %q", got)
	}
}

func TestTemplateData(t *testing.T) {
	ctx := initLang(t, "zh")
	got := Td(ctx, "exam.load_failed", map[string]any{"Error": "bad json"})
	if got != "试卷加载失败：bad json" {
		t.Errorf("Td(exam.load_failed) = %q", got)
	}
}
