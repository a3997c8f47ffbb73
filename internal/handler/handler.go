// Package handler wires the HTTP surface: pages, chat panel endpoints,
// the SSE event stream, and settings management.
package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tmaxmax/go-sse"

	"examtutor"
	"examtutor/internal/chat"
	"examtutor/internal/exam"
	"examtutor/internal/i18n"
	"examtutor/internal/llm"
	"examtutor/internal/llm/prompts"
	"examtutor/internal/model"
	"examtutor/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	stream    *llm.StreamClient
	renderer  *chat.Renderer
	templates *template.Template
	prompts   prompts.Templates
	sseSrv    *sse.Server
	examsDir  string
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*panelSession
}

// panelSession is one browser tab working through one exam: the loaded
// paper, recorded answers by original question index, and the chat
// controller bound to the tab's SSE topic.
type panelSession struct {
	id         string
	exam       *model.Exam
	examKey    string
	controller *chat.Controller

	mu      sync.Mutex
	answers map[int]string
}

func (p *panelSession) answer(questionIndex int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers[questionIndex]
}

func (p *panelSession) setAnswer(questionIndex int, answer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[questionIndex] = answer
}

// New creates a Handler. examsDir is the directory of exam JSON files;
// timeout bounds each streamed completion; promptTmpl overrides the
// default explanation templates when non-zero.
func New(s *store.Store, examsDir string, timeout time.Duration, promptTmpl prompts.Templates, logger *slog.Logger) (*Handler, error) {
	tmpl, err := template.ParseFS(
		examtutor.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		store:     s,
		stream:    llm.NewStreamClient(logger),
		renderer:  chat.NewRenderer(),
		templates: tmpl,
		prompts:   promptTmpl,
		examsDir:  examsDir,
		timeout:   timeout,
		logger:    logger.With(slog.String("module", "handler")),
		sessions:  make(map[string]*panelSession),
	}
	h.sseSrv = &sse.Server{
		OnSession: func(sess *sse.Session) (sse.Subscription, bool) {
			topics := []string{sse.DefaultTopic}
			if id := chi.URLParam(sess.Req, "sessionID"); id != "" {
				topics = append(topics, panelTopic(id))
			}
			return sse.Subscription{
				Client:      sess,
				LastEventID: sess.LastEventID,
				Topics:      topics,
			}, true
		},
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/exam/start", h.handleStartExam)
	r.Get("/exam/{sessionID}", h.handleExamPage)
	r.Get("/exam/{sessionID}/events", h.sseSrv.ServeHTTP)
	r.Post("/exam/{sessionID}/answer/{questionIndex}", h.handleAnswer)
	r.Post("/exam/{sessionID}/chat/open", h.handleChatOpen)
	r.Post("/exam/{sessionID}/chat/message", h.handleChatMessage)
	r.Post("/exam/{sessionID}/chat/retry", h.handleChatRetry)
	r.Post("/exam/{sessionID}/chat/close", h.handleChatClose)
	r.Post("/exam/{sessionID}/chat/clear", h.handleChatClear)
	r.Post("/exam/{sessionID}/submit", h.handleSubmit)
	r.Get("/export/{examKey}", h.handleExport)
	r.Get("/settings", h.handleSettingsPage)
	r.Post("/settings", h.handleSettingsAdd)
	r.Post("/settings/{id}/activate", h.handleSettingsActivate)
	r.Post("/settings/{id}/delete", h.handleSettingsDelete)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	files, err := exam.ListDir(h.examsDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	keys, err := h.store.ListExamKeys()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.render(w, r, "index.html", map[string]any{
		"Title":     i18n.T(r.Context(), "AppTitle"),
		"Exams":     files,
		"ChatKeys":  keys,
		"ExamCount": len(files),
	})
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.FormValue("exam"))
	loaded, err := exam.LoadFile(filepath.Join(h.examsDir, name))
	if err != nil {
		h.logger.Error("loading exam failed", slog.String("file", name), slog.String("error", err.Error()))
		http.Error(w, i18n.Td(r.Context(), "exam.load_failed", map[string]any{"Error": err.Error()}), http.StatusBadRequest)
		return
	}

	sess := h.newSession(loaded)
	http.Redirect(w, r, "/exam/"+sess.id, http.StatusSeeOther)
}

func (h *Handler) handleExamPage(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}

	h.render(w, r, "exam.html", map[string]any{
		"Title":     sess.exam.Info.Title,
		"SessionID": sess.id,
		"Exam":      sess.exam,
	})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
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
	sess.setAnswer(idx, r.FormValue("answer"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, page, data); err != nil {
		h.logger.Error("render error", slog.String("page", page), slog.String("error", err.Error()))
	}
}
