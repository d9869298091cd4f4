package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"splatgate/internal/analysis"
	"splatgate/internal/charts"
	"splatgate/internal/pipeline"
	"splatgate/internal/storage"
)

// JobQueue is the part of the pipeline the server drives.
type JobQueue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Server exposes job submission, reports and live job events over HTTP.
type Server struct {
	addr   string
	store  *storage.Store
	queue  JobQueue
	log    *slog.Logger
	hub    *hub
	server *http.Server
}

// NewServer returns a server for addr. It does not listen until Start.
func NewServer(addr string, store *storage.Store, queue JobQueue, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:  addr,
		store: store,
		queue: queue,
		log:   log,
		hub:   newHub(log),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startBackground runs the websocket hub and feeds it pipeline results.
func (s *Server) startBackground(ctx context.Context) {
	go s.hub.run(ctx)
	if s.queue == nil {
		return
	}
	results, unsubscribe := s.queue.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-results:
				if !ok {
					return
				}
				payload, err := json.Marshal(newJobEvent(res))
				if err != nil {
					s.log.Warn("encode job event", "id", res.Job.ID, "error", err)
					continue
				}
				s.hub.publish(payload)
			}
		}
	}()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/report", s.handleReport).Methods("GET")
	r.HandleFunc("/jobs/{id}/frames", s.handleFrames).Methods("GET")
	r.HandleFunc("/jobs/{id}/chart", s.handleChart).Methods("GET")
	r.HandleFunc("/handoffs", s.handleHandoffs).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.serveWS).Methods("GET")
	return r
}

// jobEvent is the wire form of a finished job on /stream and /ws.
type jobEvent struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Score    *int           `json:"score,omitempty"`
	Proceed  *bool          `json:"proceed,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Finished time.Time      `json:"finished"`
}

func newJobEvent(res pipeline.Result) jobEvent {
	ev := jobEvent{
		ID:       res.Job.ID,
		Type:     string(res.Job.Type),
		Source:   res.Job.Source,
		Status:   res.Status(),
		Meta:     res.Meta,
		Finished: time.Now().UTC(),
	}
	if res.Error != nil {
		ev.Error = res.Error.Error()
	}
	if res.Report != nil {
		score := res.Report.OverallScore
		ev.Score = &score
	}
	if res.Decision != nil {
		proceed := res.Decision.Proceed
		ev.Proceed = &proceed
		ev.Reason = res.Decision.Reason
	}
	return ev
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type analyzeRequest struct {
	Source      string `json:"source"`
	Threshold   *int   `json:"threshold,omitempty"`
	MetricsOnly bool   `json:"metricsOnly,omitempty"`
}

// handleAnalyze queues a video or frame directory that already exists on
// the server's filesystem.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if _, err := os.Stat(req.Source); err != nil {
		writeError(w, http.StatusBadRequest, "source not readable: "+err.Error())
		return
	}

	job := pipeline.Job{
		ID:      "analyze-" + uuid.NewString()[:8],
		Type:    pipeline.JobAnalyze,
		Source:  req.Source,
		Options: map[string]any{},
	}
	if req.MetricsOnly {
		job.ID = "metrics-" + uuid.NewString()[:8]
		job.Type = pipeline.JobMetrics
	}
	if req.Threshold != nil {
		if *req.Threshold < 0 || *req.Threshold > 100 {
			writeError(w, http.StatusBadRequest, "threshold must be within 0..100")
			return
		}
		job.Options["threshold"] = *req.Threshold
	}

	if err := s.queue.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	s.log.Info("job accepted", "id", job.ID, "source", job.Source)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "queued"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.JobMeta(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "meta": meta})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Report(mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.store.FrameMetrics(mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	if metrics == nil {
		metrics = []analysis.FrameMetrics{}
	}
	writeJSON(w, http.StatusOK, metrics)
}

// handleChart renders the stored report as HTML, or as PNG with ?format=png.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := s.store.Report(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "png" {
		w.Header().Set("Content-Type", "image/png")
		if err := charts.RenderPNG(w, report.FrameMetrics, id); err != nil {
			s.log.Warn("render png chart", "id", id, "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := charts.RenderHTML(w, report, id); err != nil {
		s.log.Warn("render html chart", "id", id, "error", err)
	}
}

func (s *Server) handleHandoffs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Handoffs(limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(newJobEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func limitParam(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 || n > 1000 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
