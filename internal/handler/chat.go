package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"examtutor/internal/chat"
	"examtutor/internal/i18n"
	"examtutor/internal/llm"
	"examtutor/internal/model"
)

func panelTopic(sessionID string) string {
	return "panel-" + sessionID
}

// sseSurface implements chat.Surface by publishing typed events to the
// panel's SSE topic. The browser side applies them to the chat pane.
// Markdown messages are rendered server-side; the client only ever
// inserts finished HTML.
type sseSurface struct {
	srv      *sse.Server
	topic    string
	renderer *chat.Renderer
	logger   *slog.Logger
}

type surfacePayload struct {
	ID       int64  `json:"id,omitempty"`
	Role     string `json:"role,omitempty"`
	HTML     string `json:"html,omitempty"`
	Text     string `json:"text,omitempty"`
	On       bool   `json:"on,omitempty"`
	Markdown bool   `json:"markdown,omitempty"`
}

func (s *sseSurface) publish(eventType string, payload surfacePayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal surface event", slog.String("error", err.Error()))
		return
	}
	msg := sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(string(data))
	if err := s.srv.Publish(&msg, s.topic); err != nil {
		s.logger.Warn("publish surface event",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}

func (s *sseSurface) Reset()             { s.publish("reset", surfacePayload{}) }
func (s *sseSurface) Typing(active bool) { s.publish("typing", surfacePayload{On: active}) }
func (s *sseSurface) RenderPartial(html string) {
	s.publish("partial", surfacePayload{HTML: html})
}
func (s *sseSurface) RenderMessage(m model.Message, markdown bool) {
	s.publish("message", s.messagePayload(m, markdown))
}

// messagePayload builds the wire form of a finished message. Assistant
// markdown carries rendered HTML so replayed and completed messages
// display the same way streamed partials do; plain messages (user
// turns, error notices) stay as text for textContent insertion.
func (s *sseSurface) messagePayload(m model.Message, markdown bool) surfacePayload {
	p := surfacePayload{
		ID:       m.ID,
		Role:     string(m.Role),
		Text:     m.Content,
		Markdown: markdown,
	}
	if markdown {
		p.HTML = s.renderer.Render(m.Content)
	}
	return p
}
func (s *sseSurface) TruncateFrom(messageID int64) {
	s.publish("truncate", surfacePayload{ID: messageID})
}
func (s *sseSurface) ComposerEnabled(enabled bool) {
	s.publish("composer", surfacePayload{On: enabled})
}
func (s *sseSurface) Notify(text string) {
	s.publish("notify", surfacePayload{Text: text})
}

func (h *Handler) newSession(loaded *model.Exam) *panelSession {
	sess := &panelSession{
		id:      uuid.New().String(),
		exam:    loaded,
		examKey: loaded.ExamKey(),
		answers: make(map[int]string),
	}
	sess.controller = chat.NewController(chat.Config{
		ExamKey:  sess.examKey,
		Store:    h.store,
		Stream:   h.stream,
		Renderer: h.renderer,
		Surface: &sseSurface{
			srv:      h.sseSrv,
			topic:    panelTopic(sess.id),
			renderer: h.renderer,
			logger:   h.logger,
		},
		Templates: h.prompts,
		Endpoint:  h.activeEndpoint,
		Answers:   sess.answer,
		Localize:  i18n.T,
		Timeout:   h.timeout,
		OpenDelay: chat.DefaultOpenDelay,
		Logger:    h.logger,
	})

	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
	return sess
}

func (h *Handler) session(id string) *panelSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// activeEndpoint resolves the active API profile at request time, so
// settings changes apply to the next message without a restart.
func (h *Handler) activeEndpoint() llm.Endpoint {
	cfg, err := h.store.ActiveConfig()
	if err != nil {
		h.logger.Error("loading active config failed", slog.String("error", err.Error()))
		return llm.Endpoint{}
	}
	if cfg == nil {
		return llm.Endpoint{}
	}
	return llm.EndpointFromConfig(*cfg)
}

func (h *Handler) questionIndex(r *http.Request, sess *panelSession) (int, bool) {
	raw := chi.URLParam(r, "questionIndex")
	if raw == "" {
		raw = r.FormValue("question")
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 || idx >= len(sess.exam.Questions) {
		return 0, false
	}
	return idx, true
}

// dispatchAsync runs a chat intent off the request goroutine: results
// arrive over the panel's SSE stream, not the HTTP response.
func (h *Handler) dispatchAsync(sess *panelSession, in chat.Intent) {
	go func() {
		if err := sess.controller.Dispatch(context.Background(), in); err != nil {
			h.logger.Warn("chat intent failed",
				slog.String("intent", in.Name),
				slog.String("error", err.Error()))
		}
	}()
}

func (h *Handler) handleChatOpen(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}
	idx, ok := h.questionIndex(r, sess)
	if !ok {
		http.Error(w, "invalid question index", http.StatusBadRequest)
		return
	}
	h.dispatchAsync(sess, chat.Intent{
		Name:          chat.IntentOpen,
		Question:      sess.exam.Questions[idx],
		QuestionIndex: idx,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}
	h.dispatchAsync(sess, chat.Intent{Name: chat.IntentSend, Text: r.FormValue("text")})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleChatRetry(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}
	messageID, err := strconv.ParseInt(r.FormValue("message"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}
	h.dispatchAsync(sess, chat.Intent{Name: chat.IntentRetry, MessageID: messageID})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleChatClose(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}
	sess.controller.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChatClear(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}
	count, err := h.store.DeleteAllForExam(sess.examKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sess.controller.Close()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]any{
		"cleared": count,
		"message": i18n.Tp(r.Context(), "chat.cleared", count),
	})
}
