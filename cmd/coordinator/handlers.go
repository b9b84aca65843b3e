package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/rendermesh/internal/coordinator"
	"github.com/dreamware/rendermesh/internal/failover"
	"github.com/dreamware/rendermesh/internal/job"
	"github.com/dreamware/rendermesh/internal/metrics"
)

// maxSceneBytes bounds an uploaded scene file.
const maxSceneBytes = 1 << 30

// server exposes the session over HTTP for the dashboard.
type server struct {
	sess    *coordinator.Session
	log     logrus.FieldLogger
	metrics bool
}

func newServer(sess *coordinator.Session, log logrus.FieldLogger, withMetrics bool) *server {
	return &server{sess: sess, log: log, metrics: withMetrics}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /view", s.handleView)
	mux.HandleFunc("GET /ring", s.handleRing)
	mux.HandleFunc("POST /network/join", s.handleJoin)
	mux.HandleFunc("POST /network/leave", s.handleLeave)
	mux.HandleFunc("POST /election/start", s.handleStartElection)
	mux.HandleFunc("POST /alerts/{id}/dismiss", s.handleDismissAlert)
	mux.HandleFunc("POST /alerts/{id}/reelect", s.handleReelectAlert)
	mux.HandleFunc("GET /job", s.handleJob)
	mux.HandleFunc("POST /job/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /job/configure", s.handleConfigure)
	mux.HandleFunc("POST /job/distribute", s.handleDistribute)
	mux.HandleFunc("POST /job/reset", s.handleReset)
	if s.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

func (s *server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Reconciler().View())
}

func (s *server) handleRing(w http.ResponseWriter, r *http.Request) {
	v := s.sess.Reconciler().View()
	writeJSON(w, http.StatusOK, struct {
		Error string `json:"error,omitempty"`
		Nodes any    `json:"nodes"`
		Edges any    `json:"edges"`
	}{Error: v.RingError, Nodes: v.Ring.Nodes, Edges: v.Ring.Edges})
}

func (s *server) handleJoin(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.Join(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleLeave(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.Leave(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleStartElection(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.StartElection(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	ev, err := s.sess.DismissAlert(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *server) handleReelectAlert(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.ReelectAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleJob(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Job().Snapshot())
}

// handleAnalyze accepts the scene as the multipart field "file".
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSceneBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	scene, err := s.sess.Analyze(r.Context(), hdr.Filename, content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (s *server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req job.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	out, err := s.sess.Configure(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Distribute(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.sess.Job().Snapshot())
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ResetJob(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Job().Snapshot())
}

// writeError maps domain errors onto status codes. Anything unrecognized
// came from the backend.
func (s *server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusBadGateway {
		s.log.WithError(err).Warn("Backend request failed")
	}
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, failover.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidTransition), errors.Is(err, job.ErrNotLeader):
		return http.StatusConflict
	case errors.Is(err, job.ErrEmptyFrameRange), errors.Is(err, job.ErrFrameRangeTooLarge),
		errors.Is(err, job.ErrUnknownEngine):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
