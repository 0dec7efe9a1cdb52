// Package server exposes the scoring pipeline and the streaming search over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/metrics"
	"github.com/spigell/job-matcher/internal/search"
	"github.com/spigell/job-matcher/internal/store"
)

const (
	SessionHeader = "X-Search-Session"

	shutdownTimeout = 10 * time.Second
)

type ScoringScheduler interface {
	RequestScoring(ctx context.Context, jobID string, rescore bool) (matching.JobAggregate, error)
}

type AggregateReader interface {
	Aggregate(ctx context.Context, jobID string) (matching.JobAggregate, error)
}

type Searcher interface {
	Start(ctx context.Context, query, candidateID string) (*search.Session, error)
	Stop(sessionID string) bool
}

type Server struct {
	scheduler  ScoringScheduler
	aggregates AggregateReader
	searcher   Searcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	router     *mux.Router
}

func New(scheduler ScoringScheduler, aggregates AggregateReader, searcher Searcher, m *metrics.Metrics, log *zap.Logger) *Server {
	s := &Server{
		scheduler:  scheduler,
		aggregates: aggregates,
		searcher:   searcher,
		metrics:    m,
		logger:     logger.Named(log, "http"),
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/jobs/{id}/score", s.scoreJob).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs/{id}/scoring", s.jobScoring).Methods(http.MethodGet)

	s.router.HandleFunc("/search", s.search).Methods(http.MethodGet)
	s.router.HandleFunc("/search/{session}", s.stopSearch).Methods(http.MethodDelete)
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) scoreJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	rescore := false
	if raw := r.URL.Query().Get("rescore"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "rescore must be a boolean")
			return
		}
		rescore = v
	}

	agg, err := s.scheduler.RequestScoring(r.Context(), jobID, rescore)
	switch {
	case errors.Is(err, matching.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to request scoring", zap.String(logger.FieldJobID, jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to request scoring")
		return
	}

	writeJSON(w, http.StatusAccepted, agg)
}

func (s *Server) jobScoring(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	agg, err := s.aggregates.Aggregate(r.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrNoAggregate):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to load aggregate", zap.String(logger.FieldJobID, jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scoring status")
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// search streams one session as Server-Sent Events. The session is stopped
// when the client goes away.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	candidateID := r.URL.Query().Get("candidate")
	if candidateID == "" {
		writeError(w, http.StatusBadRequest, "candidate is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	session, err := s.searcher.Start(r.Context(), r.URL.Query().Get("q"), candidateID)
	if errors.Is(err, search.ErrCoordinatorClosed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start search")
		return
	}

	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(SessionHeader, session.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range session.Events() {
		if err := sse.Encode(w, sse.Event{Event: string(ev.Type), Data: ev}); err != nil {
			s.logger.Debug("search client went away", zap.String(logger.FieldSessionID, session.ID()), zap.Error(err))
			s.searcher.Stop(session.ID())
			return
		}
		flusher.Flush()
	}
}

func (s *Server) stopSearch(w http.ResponseWriter, r *http.Request) {
	if !s.searcher.Stop(mux.Vars(r)["session"]) {
		writeError(w, http.StatusNotFound, "search session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
