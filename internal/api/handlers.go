package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// handleHealth returns service status and the store's high-water mark
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "healthy",
		"service": s.service,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	}
	if latest, ok, err := s.hits.MaxDate(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	} else if ok {
		resp["latest_date"] = latest.Format(time.DateOnly)
	}
	respondJSON(w, resp)
}

// handleDailyHits returns stored daily rows
// GET /api/v1/hits/daily?from=2024-05-01&to=2024-05-31&url=/blog&limit=100
func (s *Server) handleDailyHits(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.URL = r.URL.Query().Get("url")

	rows, err := s.hits.DailyHits(r.Context(), filter)
	if err != nil {
		s.logger.Error("daily hits query failed", zap.Error(err))
		respondError(w, "failed to query daily hits", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"hits":  rows,
		"count": len(rows),
	})
}

// handleTopPaths returns paths ranked by summed hits
// GET /api/v1/hits/top?from=2024-05-01&to=2024-05-31&limit=10
func (s *Server) handleTopPaths(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	paths, err := s.hits.TopPaths(r.Context(), filter)
	if err != nil {
		s.logger.Error("top paths query failed", zap.Error(err))
		respondError(w, "failed to query top paths", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"paths": paths,
		"count": len(paths),
	})
}

// handleRuns returns the most recent ledger records
// GET /api/v1/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("run log query failed", zap.Error(err))
		respondError(w, "failed to query run log", http.StatusInternalServerError)
		return
	}

	out := make([]runView, 0, len(records))
	for _, rec := range records {
		out = append(out, runView{
			JobName:     rec.JobName,
			PeriodStart: rec.PeriodStart.Format(time.DateOnly),
			Status:      string(rec.Status),
			RunAt:       rec.RunAt.UTC().Format(time.RFC3339),
			Message:     rec.Message,
		})
	}
	respondJSON(w, map[string]interface{}{
		"runs":  out,
		"count": len(out),
	})
}

type runView struct {
	JobName     string `json:"job_name"`
	PeriodStart string `json:"period_start"`
	Status      string `json:"status"`
	RunAt       string `json:"run_at"`
	Message     string `json:"message"`
}

func parseFilter(r *http.Request) (filter hitFilter, err error) {
	q := r.URL.Query()
	if filter.From, err = parseDate(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseDate(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("to must not be before from")
	}
	filter.Limit, err = parseLimit(r, defaultLimit)
	return filter, err
}

func parseDate(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q, expected YYYY-MM-DD", name, v)
	}
	return t, nil
}

// parseLimit reads ?limit=, applying def when absent and capping at maxLimit
func parseLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	if limit > maxLimit {
		return maxLimit, nil
	}
	return limit, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
