package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/skillhub/internal/collect"
	"github.com/dohr-michael/skillhub/internal/exec"
	"github.com/dohr-michael/skillhub/internal/jobs"
	"github.com/dohr-michael/skillhub/internal/search"
)

// skillID joins the two route segments back into a domain-scoped id.
func skillID(r *http.Request) string {
	return chi.URLParam(r, "domain") + "/" + chi.URLParam(r, "name")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:   r.URL.Query().Get("q"),
		Domain: r.URL.Query().Get("domain"),
		Limit:  -1,
	}
	if tags, ok := r.URL.Query()["tag"]; ok {
		q.Tags = tags
	}
	q.MatchAllTags = r.URL.Query().Get("match") == "all"
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "limit must be an integer"})
			return
		}
		q.Limit = n
	}

	results, err := s.router.Search(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSkillShow(w http.ResponseWriter, r *http.Request) {
	meta, err := s.assembler.MetadataOnly(r.Context(), skillID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSkillFiles(w http.ResponseWriter, r *http.Request) {
	b, err := s.assembler.Assemble(r.Context(), skillID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Files)
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	list, err := s.meta.ListByDomain(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]any, len(list))
	for i, m := range list {
		summaries[i] = m.Summarize()
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid request body"})
		return
	}

	id := skillID(r)
	b, err := s.assembler.Assemble(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.adapter.Execute(r.Context(), b, body.Fields)
	if err != nil {
		// A fault that reached the runtime still counts as usage.
		if errors.Is(err, exec.ErrRuntimeFault) || errors.Is(err, exec.ErrOutputAdapterMismatch) {
			s.recordExecution(r, id, false)
		}
		writeError(w, err)
		return
	}
	s.recordExecution(r, id, true)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) recordExecution(r *http.Request, id string, success bool) {
	if err := s.meta.RecordExecution(r.Context(), id, success); err != nil {
		slog.Warn("usage accounting failed", "skill", id, "error", err)
	}
}

func (s *Server) handleCollectStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string `json:"caller"`
	}
	// An empty body is fine; the caller tag is optional.
	json.NewDecoder(r.Body).Decode(&body)

	b, err := s.assembler.Assemble(r.Context(), skillID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	session, prompt, err := s.collector.Start(b, body.Caller)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"session_id": session.ID,
		"skill_id":   session.SkillID,
		"complete":   session.Status == collect.StatusComplete,
	}
	if prompt != nil {
		resp["prompt"] = prompt
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCollectPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.collector.Prompt(chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleCollectAnswers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupIndex int            `json:"group_index"`
		Answers    map[string]any `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := s.collector.Submit(chi.URLParam(r, "session"), body.GroupIndex, body.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if len(result.FieldErrors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleCollectAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.collector.Abandon(chi.URLParam(r, "session")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   string `json:"type"`
		Folder string `json:"folder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid request body"})
		return
	}

	job, err := s.orch.Submit(jobs.Type(body.Type), body.Folder)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobPoll(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Poll(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.List())
}
