package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/mentor/internal/coaching"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

const defaultAuditLimit = ledger.DefaultTailSize

func (s *Server) lessonMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lessons.MetricsSummary())
}

// auditTrail handles GET /lessons/audit-trail?limit=N.
func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recent_events": s.lessons.AuditTrailTail(limit),
		"total_events":  s.lessons.EventCount(),
	})
}

func (s *Server) plateauStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lessons.PlateauReport())
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	cats := s.lessons.CategoryBreakdown()
	writeJSON(w, http.StatusOK, map[string]any{
		"categories":       cats,
		"total_categories": len(cats),
	})
}

// coachingGuide handles GET /lessons/coaching-guide?per_section=N and renders
// the corpus as a markdown prompt.
func (s *Server) coachingGuide(w http.ResponseWriter, r *http.Request) {
	perSection := coaching.DefaultPerSection
	if v := r.URL.Query().Get("per_section"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "per_section must be a positive integer")
			return
		}
		perSection = n
	}

	var buf bytes.Buffer
	if err := coaching.Render(&buf, coaching.FromLessons(s.lessons.Lessons(), perSection)); err != nil {
		s.logger.Error("render coaching guide", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render coaching guide")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
