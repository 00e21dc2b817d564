package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/fetchd/internal/domain"
	"github.com/you/fetchd/internal/queue"
	"github.com/you/fetchd/internal/storage"
)

// Server exposes the submission, status, listing and file-serving
// boundaries over HTTP. It holds no business logic of its own: status and
// listing are plain projections of the store, and the download handler only
// enforces the artifact authorization rule before streaming bytes.
type Server struct {
	store      storage.Store
	queue      queue.Queue
	storageDir string
	log        *zap.Logger
}

func New(store storage.Store, q queue.Queue, storageDir string, log *zap.Logger) *Server {
	return &Server{store: store, queue: q, storageDir: storageDir, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/v1/jobs", s.handleSubmit)
	r.Get("/v1/jobs", s.handleList)
	r.Get("/v1/jobs/{id}", s.handleStatus)
	r.Get("/downloads/{filename}", s.handleDownload)
	return r
}

type submitRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.store.Create(r.Context(), req.URL)
	if err != nil {
		s.log.Error("create job failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
		// The record exists but will never be picked up; fail it now
		// rather than leaving it Pending forever. The transition must
		// land even if the client has already gone away.
		s.log.Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		ferr := s.store.Transition(context.WithoutCancel(r.Context()), job.ID, domain.Failed,
			domain.TransitionFields{ErrorMessage: fmt.Sprintf("failed to enqueue job: %v", err)})
		if ferr != nil {
			s.log.Error("cannot mark job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		s.writeError(w, http.StatusInternalServerError, "could not enqueue job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error("get job failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", storage.DefaultListLimit)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.log.Error("list jobs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleDownload releases durable-storage bytes only for a filename that is
// the recorded artifact of a Completed job. Everything else is rejected:
// that rule is what keeps this endpoint from disclosing arbitrary files.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != path.Base(filename) || strings.HasPrefix(filename, ".") {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}

	jobID, ok := jobIDFromFilename(filename)
	if !ok {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}

	job, err := s.store.Get(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.log.Error("get job failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}

	if !job.Status.IsTerminal() {
		s.writeError(w, http.StatusConflict, "file not yet available")
		return
	}
	if job.Status != domain.Completed || job.ArtifactName != filename {
		s.writeError(w, http.StatusForbidden, "unauthorized access")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path.Join(s.storageDir, filename))
}

// jobIDFromFilename recovers the job id that prefixes every artifact name,
// both the plain `<id>.<ext>` form and the collision-renamed
// `<id>_<name>` form.
func jobIDFromFilename(filename string) (string, bool) {
	stem, _, ok := strings.Cut(filename, ".")
	if !ok {
		return "", false
	}
	if i := strings.Index(stem, "_"); i >= 0 {
		stem = stem[:i]
	}
	if _, err := uuid.Parse(stem); err != nil {
		return "", false
	}
	return stem, true
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("url must be a valid http(s) URL")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
