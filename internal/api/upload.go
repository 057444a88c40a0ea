package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/mentor/internal/jobs"
	"github.com/MikeSquared-Agency/mentor/internal/transcript"
)

// upload handles POST /upload. The transcript is stored under
// <upload dir>/<job id>/<name> and queued for analysis.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.maxUpload))
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "no file provided")
		default:
			writeError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	if !transcript.Supported(name) {
		writeError(w, http.StatusBadRequest, "only PDF, TXT and MD transcripts are supported")
		return
	}

	id := jobs.NewID()
	path, err := s.save(id, name, file)
	if err != nil {
		s.logger.Error("failed to store upload", "job_id", id, "filename", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job := s.jobs.Submit(id, name, path)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"filename": job.Filename,
		"status":   job.Status,
	})
}

func (s *Server) save(id, name string, src io.Reader) (string, error) {
	dir := filepath.Join(s.uploadDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.RemoveAll(dir)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list := s.jobs.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"total": len(list),
	})
}
