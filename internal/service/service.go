// Package service exposes the batch cleaner over HTTP and runs the queue
// worker that executes submitted batches.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/batch"
	"github.com/local/imagecleaner/internal/config"
	"github.com/local/imagecleaner/internal/metrics"
	"github.com/local/imagecleaner/internal/pipeline"
	"github.com/local/imagecleaner/internal/progress"
	"github.com/local/imagecleaner/internal/queue"
	"github.com/local/imagecleaner/internal/store"
)

// Deps are the collaborators the service is built from.
type Deps struct {
	Cfg      config.Config
	Queue    queue.Queue
	Store    store.StatusStore
	Runner   batch.Runner
	Saver    batch.Saver
	Validate func(path string) error
	Fetch    func(ctx context.Context, path string) (string, func(), error)
}

// Service owns the HTTP surface and the worker loop. One worker processes
// batches sequentially; the API stays responsive throughout.
type Service struct {
	deps     Deps
	smoother *progress.Smoother

	mu         sync.Mutex
	selections map[string]chan []pipeline.ImageRef
	cancels    map[string]context.CancelFunc
	tokenBatch map[uint64]string

	stop chan struct{}
	done chan struct{}
}

func New(deps Deps) *Service {
	s := &Service{
		deps:       deps,
		selections: make(map[string]chan []pipeline.ImageRef),
		cancels:    make(map[string]context.CancelFunc),
		tokenBatch: make(map[uint64]string),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.smoother = progress.NewSmoother(s.publishSmoothed)
	return s
}

// Start launches the worker loop and the progress smoother.
func (s *Service) Start() {
	s.smoother.Start()
	go s.workerLoop()
	go s.depthLoop()
}

// Stop shuts the worker down and waits for the in-flight batch to stop at
// its next document boundary.
func (s *Service) Stop() {
	close(s.stop)
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	<-s.done
	s.smoother.Stop()
}

// RegisterRoutes attaches the API to mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", s.handleSubmit)
	mux.HandleFunc("GET /runs/{id}", s.handleStatus)
	mux.HandleFunc("POST /runs/{id}/selection", s.handleSelection)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())
}

type submitRequest struct {
	Paths     []string             `json:"paths"`
	Mode      string               `json:"mode"`
	OutputDir string               `json:"output_dir"`
	Rules     *pipeline.RuleConfig `json:"rules"`
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}
	mode := batch.Mode(req.Mode)
	switch mode {
	case "":
		mode = batch.ModeAutomatic
	case batch.ModeAutomatic, batch.ModeInteractive:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	rules := config.LoadRules(s.deps.Cfg.RulesFile)
	if req.Rules != nil {
		rules = *req.Rules
		// the latest explicit selection becomes the default for later runs
		if err := config.SaveRules(s.deps.Cfg.RulesFile, rules); err != nil {
			log.Warn().Err(err).Msg("persisting rule selection failed")
		}
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = s.deps.Cfg.OutputDir
	}

	job := batch.Job{
		ID:        uuid.NewString(),
		Paths:     req.Paths,
		Mode:      mode,
		OutputDir: outDir,
		Rules:     rules,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode job failed")
		return
	}

	now := time.Now()
	st := store.Status{State: "queued", Message: fmt.Sprintf("%d documents queued", len(job.Paths)), Start: &now}
	if err := s.deps.Store.Set(r.Context(), job.ID, st); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("status store: %v", err))
		return
	}
	if err := s.deps.Queue.Enqueue(r.Context(), payload); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue: %v", err))
		return
	}
	log.Info().Str("batch", job.ID).Int("documents", len(job.Paths)).Str("mode", string(mode)).Msg("batch accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": job.ID})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("status store: %v", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown batch")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type selectionRequest struct {
	Refs []int `json:"refs"`
}

func (s *Service) handleSelection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	s.mu.Lock()
	ch, ok := s.selections[id]
	if ok {
		delete(s.selections, id)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusConflict, "batch is not awaiting a selection")
		return
	}
	refs := make([]pipeline.ImageRef, len(req.Refs))
	for i, v := range req.Refs {
		refs[i] = pipeline.ImageRef(v)
	}
	ch <- refs
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Queue.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancel: %v", err))
		return
	}
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	if ch, ok := s.selections[id]; ok {
		delete(s.selections, id)
		close(ch)
	}
	s.mu.Unlock()
	log.Info().Str("batch", id).Msg("cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
