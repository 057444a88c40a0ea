package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/mentor/internal/archive"
	"github.com/MikeSquared-Agency/mentor/internal/jobs"
)

// Results is the archive of saved analysis files.
type Results interface {
	Load(id string) (*archive.Manifest, error)
	Path(id, fileType string) (string, error)
}

// jobResults handles GET /results/{jobID}. Unfinished jobs answer 202 with
// their progress; a completed job answers with its combined analysis.
func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch job.Status {
	case jobs.StatusQueued, jobs.StatusProcessing:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   job.ID,
			"status":   job.Status,
			"progress": job.Progress,
		})
		return
	case jobs.StatusFailed:
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
			"error":  job.Error,
		})
		return
	}

	if job.Report == nil {
		writeError(w, http.StatusInternalServerError, "completed job has no result")
		return
	}
	if s.results != nil {
		path, err := s.results.Path(job.Report.AnalysisID, archive.FileComprehensive)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			http.ServeFile(w, r, path)
			return
		}
		if !errors.Is(err, archive.ErrNotFound) {
			s.logger.Warn("analysis file unavailable", "job_id", job.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, job.Report)
}

// downloadJobFile handles GET /download/{jobID}/{fileType}.
func (s *Server) downloadJobFile(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != jobs.StatusCompleted || job.Report == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	s.serveAnalysisFile(w, r, job.Report.AnalysisID, chi.URLParam(r, "fileType"))
}

// analysisManifest handles GET /analyses/{analysisID}. Saved analyses
// outlive the in-memory job list.
func (s *Server) analysisManifest(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "analysis files are not kept")
		return
	}
	m, err := s.results.Load(chi.URLParam(r, "analysisID"))
	if err != nil {
		s.writeArchiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) downloadAnalysisFile(w http.ResponseWriter, r *http.Request) {
	s.serveAnalysisFile(w, r, chi.URLParam(r, "analysisID"), chi.URLParam(r, "fileType"))
}

func (s *Server) serveAnalysisFile(w http.ResponseWriter, r *http.Request, analysisID, fileType string) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "analysis files are not kept")
		return
	}
	path, err := s.results.Path(analysisID, fileType)
	if err != nil {
		s.writeArchiveError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) writeArchiveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, "analysis not found")
	case errors.Is(err, archive.ErrUnknownFile):
		writeError(w, http.StatusBadRequest, "invalid file type")
	default:
		s.logger.Error("read analysis files", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read analysis files")
	}
}
