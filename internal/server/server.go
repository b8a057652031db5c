// Package server exposes the HTTP ingest surface: the two beat endpoints,
// posture and status pass-through, the SSE status stream, health, and
// Prometheus metrics.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mtakala/polarhub/internal/device"
	"github.com/mtakala/polarhub/internal/ingest"
	"github.com/mtakala/polarhub/internal/model"
	"github.com/mtakala/polarhub/internal/store"
)

// maxBodyBytes bounds request bodies; batch uploads after a long offline
// stretch are the largest expected payloads.
const maxBodyBytes = 5 << 20

// Server owns the HTTP handlers and the SSE fan-out. It implements
// ingest.StatusBroadcaster so the pipeline can push snapshots after each
// accepted frame.
type Server struct {
	pipeline *ingest.Pipeline
	store    store.Store
	devices  *device.Registry
	hub      *Hub
	validate *validator.Validate
	log      zerolog.Logger
	start    time.Time
	now      func() time.Time
}

// New wires the HTTP surface to its collaborators and registers itself as
// the pipeline's broadcaster.
func New(p *ingest.Pipeline, st store.Store, devices *device.Registry, log zerolog.Logger) *Server {
	s := &Server{
		pipeline: p,
		store:    st,
		devices:  devices,
		hub:      NewHub(),
		validate: validator.New(),
		log:      log.With().Str("component", "server").Logger(),
		start:    time.Now(),
		now:      time.Now,
	}
	p.SetBroadcaster(s)
	return s
}

// Router builds the chi mux with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Post("/beats", s.handleBeats)
	r.Post("/beats/batch", s.handleBatch)
	r.Post("/posture", s.handlePosture)
	r.Post("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// BroadcastStatus pushes a fresh full snapshot to every SSE listener.
func (s *Server) BroadcastStatus() {
	if s.hub.Count() == 0 {
		return
	}
	frame, err := json.Marshal(s.snapshot())
	if err != nil {
		s.log.Warn().Err(err).Msg("status snapshot marshal failed")
		return
	}
	s.hub.Broadcast(frame)
}

func (s *Server) snapshot() model.StatusSnapshot {
	now := s.now()
	return model.StatusSnapshot{
		Timestamp: now.UnixMilli(),
		UptimeSec: int64(now.Sub(s.start).Seconds()),
		Devices:   s.devices.Snapshot(),
	}
}

// requestLogger emits one line per request with method, path, status and
// latency. The SSE endpoint is skipped: its requests are open-ended.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
