package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/runledger/runledger/internal/alert"
	"github.com/runledger/runledger/internal/episode"
)

// --- Episodes ---

func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	var payload episode.EpisodeCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ep, err := s.store.Create(payload)
	if err != nil {
		var verr *episode.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wsHub.Broadcast(ep)
	s.evaluateRules(ep)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ep)
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	filter := episode.EpisodeFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Limit:   50,
	}

	if status := r.URL.Query().Get("status"); status != "" {
		if !episode.ValidStatus(episode.Status(status)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
			return
		}
		filter.Status = episode.Status(status)
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}
	if until := r.URL.Query().Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		filter.Until = &t
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	summaries, total, err := s.store.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"episodes": summaries,
		"total":    total,
	})
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ep, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "episode not found")
		return
	}
	writeJSON(w, ep)
}

// --- Rules ---

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfgLoader.Get()
	writeJSON(w, map[string]interface{}{"rules": cfg.Rules})
}

func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := s.cfgLoader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	if s.engine != nil {
		if err := s.engine.LoadRules(s.cfgLoader.Get().Rules); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load rules: "+err.Error())
			return
		}
	}
	writeJSON(w, map[string]string{"status": "reloaded"})
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.Count("", "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":          "ok",
		"service":         ServiceName,
		"version":         Version,
		"episodes_stored": stored,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

// evaluateRules runs the alert rules against a freshly ingested episode and
// dispatches an alert per match.
func (s *Server) evaluateRules(ep *episode.Episode) {
	if s.engine == nil || s.alerts == nil {
		return
	}
	for _, rule := range s.engine.Evaluate(ep) {
		s.alerts.Send(alert.Alert{
			Rule:      rule.Name,
			Severity:  rule.Severity,
			Message:   rule.Message,
			AgentID:   ep.AgentID,
			EpisodeID: ep.EpisodeID,
			Details: map[string]any{
				"status":         string(ep.Status),
				"step_count":     ep.StepCount,
				"total_tokens":   ep.TotalTokens,
				"total_cost_usd": ep.TotalCostUSD,
			},
		})
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
