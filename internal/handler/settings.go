package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"examtutor/internal/exam"
	"examtutor/internal/i18n"
	"examtutor/internal/llm"
	"examtutor/internal/model"
	"examtutor/internal/store"
)

func (h *Handler) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListConfigs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "settings.html", map[string]any{
		"Title":   i18n.T(r.Context(), "AppTitle"),
		"Configs": configs,
	})
}

func (h *Handler) handleSettingsAdd(w http.ResponseWriter, r *http.Request) {
	cfg := model.APIConfig{
		Name:   r.FormValue("name"),
		APIKey: r.FormValue("api_key"),
		APIURL: r.FormValue("api_url"),
		Model:  r.FormValue("api_model"),
	}
	if cfg.Name == "" || cfg.APIURL == "" {
		http.Error(w, "name and api_url are required", http.StatusBadRequest)
		return
	}
	if _, err := h.store.AddConfig(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (h *Handler) handleSettingsActivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid config id", http.StatusBadRequest)
		return
	}
	if err := h.store.SetActiveConfig(id); err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			http.Error(w, i18n.T(r.Context(), "settings.not_found"), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (h *Handler) handleSettingsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid config id", http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteConfig(id); err != nil {
		switch {
		case errors.Is(err, store.ErrLastConfig):
			http.Error(w, i18n.T(r.Context(), "settings.last_config"), http.StatusConflict)
		case errors.Is(err, store.ErrConfigNotFound):
			http.Error(w, i18n.T(r.Context(), "settings.not_found"), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// handleSubmit grades the whole submission: objective questions
// locally, subjective ones through the grading endpoint.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess := h.session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, i18n.T(r.Context(), "exam.not_found"), http.StatusNotFound)
		return
	}

	ep := h.activeEndpoint()
	if (ep.URL == "" || ep.APIKey == "") && hasSubjective(sess.exam) {
		http.Error(w, i18n.T(r.Context(), "grade.no_endpoint"), http.StatusPreconditionFailed)
		return
	}
	grader := llm.NewGrader(ep, h.logger)

	result, err := exam.Score(r.Context(), grader, sess.exam, sess.answer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(result)
}

func hasSubjective(e *model.Exam) bool {
	for _, q := range e.Questions {
		if !q.Objective() {
			return true
		}
	}
	return false
}

// handleExport streams the stored conversations for one exam key as a
// downloadable JSON document.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	examKey := chi.URLParam(r, "examKey")
	export, err := h.store.ExportExam(examKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+examKey+`_chats.json"`)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		h.logger.Error("export encode failed", "error", err)
	}
}
