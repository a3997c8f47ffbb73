package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"examtutor/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deltaJSON(content string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, content)
}

func TestCompleteAssemblesStreamedReply(t *testing.T) {
	srv := sseServer(t,
		deltaJSON("H"),
		deltaJSON("i"),
		`{"choices":[{"delta":{}}]}`,
		"[DONE]",
	)
	c := NewStreamClient(testLogger())

	var seen []string
	got, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, APIKey: "k", Model: "m"},
		[]model.Message{{Role: model.RoleUser, Content: "say hi"}},
		func(partial string) { seen = append(seen, partial) },
	)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Hi" {
		t.Errorf("reply = %q, want %q", got, "Hi")
	}
	want := []string{"H", "Hi"}
	if len(seen) != len(want) {
		t.Fatalf("onToken calls = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("partial %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestCompleteWithoutAPIKeyFailsBeforeRequest(t *testing.T) {
	requested := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer srv.Close()

	c := NewStreamClient(testLogger())
	_, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, Model: "m"},
		[]model.Message{{Role: model.RoleUser, Content: "hi"}},
		nil,
	)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
	if requested {
		t.Error("request sent despite missing API key")
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"bad key"}`)
	}))
	defer srv.Close()

	c := NewStreamClient(testLogger())
	_, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, APIKey: "k", Model: "m"},
		[]model.Message{{Role: model.RoleUser, Content: "hi"}},
		nil,
	)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Body, "bad key") {
		t.Errorf("body = %q", httpErr.Body)
	}
}

func TestCompleteSkipsMalformedFragments(t *testing.T) {
	srv := sseServer(t,
		deltaJSON("one"),
		`{not valid json`,
		deltaJSON(" two"),
		"[DONE]",
	)
	c := NewStreamClient(testLogger())

	got, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, APIKey: "k", Model: "m"},
		[]model.Message{{Role: model.RoleUser, Content: "hi"}},
		nil,
	)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "one two" {
		t.Errorf("reply = %q, want %q", got, "one two")
	}
}

func TestCompleteEmptyStream(t *testing.T) {
	srv := sseServer(t, "[DONE]")
	c := NewStreamClient(testLogger())

	_, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, APIKey: "k", Model: "m"},
		[]model.Message{{Role: model.RoleUser, Content: "hi"}},
		nil,
	)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestCompleteSendsAuthAndStreamFlag(t *testing.T) {
	var gotAuth string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", deltaJSON("ok"))
	}))
	defer srv.Close()

	c := NewStreamClient(testLogger())
	if _, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, APIKey: "secret", Model: "test-model"},
		[]model.Message{{Role: model.RoleSystem, Content: "sys"}},
		nil,
	); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if !strings.Contains(gotBody, `"stream":true`) {
		t.Errorf("request body missing stream flag: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"model":"test-model"`) {
		t.Errorf("request body missing model: %s", gotBody)
	}
}
