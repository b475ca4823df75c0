package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/stimulus"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	maxStimulusBody  = 64 << 10
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.life == nil {
		writeError(w, http.StatusServiceUnavailable, "no life attached")
		return
	}
	writeJSON(w, http.StatusOK, s.life.Status())
}

func (s *Server) handlePostStimulus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "no queue attached")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxStimulusBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	var in stimulus.Input
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	rec, err := stimulus.New(in, "api", s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	queued := s.queue.Push(rec)
	if !queued {
		s.log.Warn("stimulus dropped, queue full", zap.String("category", rec.Category))
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not available")
		return
	}

	category := r.URL.Query().Get("category")
	limit := listLimit(r)

	entries, err := s.db.ListArchive(category, limit)
	if err != nil {
		s.log.Error("list archive", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.db.CountArchive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(entries),
		"total":    total,
		"entries":  entries,
	})
}

func (s *Server) handleCausal(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "causal ledger not available")
		return
	}

	records, err := s.db.ListCausal(listLimit(r))
	if err != nil {
		s.log.Error("list causal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleCausalSummary(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "causal ledger not available")
		return
	}

	sums, err := s.db.SummarizeCausal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": sums})
}

// listLimit reads ?limit=, falling back to the default on anything that is
// not a positive integer.
func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, maxListLimit)
}
