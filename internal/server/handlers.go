package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mtakala/polarhub/internal/metrics"
	"github.com/mtakala/polarhub/internal/model"
)

// persistedStatusEvents is the category.event allow-list; everything else is
// log-only so chatty relays cannot flood the status measurement.
var persistedStatusEvents = map[string]bool{
	"ble.connected":             true,
	"ble.disconnected":          true,
	"ble.pmd_locked":            true,
	"session.recording":         true,
	"session.download_complete": true,
	"session.error":             true,
	"stream.hr_interrupted":     true,
	"stream.hr_recovered":       true,
	"upload.server_online":      true,
	"upload.server_offline":     true,
}

func (s *Server) handleBeats(w http.ResponseWriter, r *http.Request) {
	var payload model.BeatsPayload
	if !s.decode(w, r, &payload) {
		return
	}
	n := s.pipeline.IngestBeats(r.Context(), payload)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": n})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var payload model.BatchPayload
	if !s.decode(w, r, &payload) {
		return
	}
	// Every beat needs a numeric timestamp; reject the whole upload before
	// any write so the client can fix and resend it intact.
	for i, b := range *payload.Beats {
		if b.Timestamp == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("beats[%d] missing timestamp", i))
			return
		}
	}
	res, err := s.pipeline.IngestBatch(r.Context(), payload)
	if err != nil {
		metrics.StoreWriteErrors.Inc()
		s.log.Error().Err(err).Str("device", payload.Device).Msg("batch ingest failed")
		writeError(w, http.StatusInternalServerError, "InfluxDB write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"received":   res.Received,
		"new":        res.New,
		"duplicates": res.Duplicates,
	})
}

func (s *Server) handlePosture(w http.ResponseWriter, r *http.Request) {
	var payload model.PosturePayload
	if !s.decode(w, r, &payload) {
		return
	}
	if payload.Device != "" {
		if dev, ok := s.devices.Get(payload.Device); ok {
			dev.Lock()
			dev.LastPosture = payload.ToPosture
			dev.Unlock()
		}
	}
	if err := s.store.WritePosture(r.Context(), payload, s.now().UnixMilli()); err != nil {
		metrics.StoreWriteErrors.Inc()
		s.log.Warn().Err(err).Msg("posture write failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var payload model.StatusPayload
	if !s.decode(w, r, &payload) {
		return
	}
	key := payload.Category + "." + payload.Event
	s.log.Info().Str("status", key).Str("device", payload.Device).
		Str("description", payload.Description).Msg("relay status")

	if persistedStatusEvents[key] {
		if err := s.store.WriteStatus(r.Context(), payload, s.now().UnixMilli()); err != nil {
			metrics.StoreWriteErrors.Inc()
			s.log.Warn().Err(err).Str("status", key).Msg("status write failed")
		}
	}
	if key == "ble.disconnected" && payload.Device != "" {
		s.devices.Reset(payload.Device)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	// Initial snapshot so the page renders before the next beat arrives.
	if frame, err := json.Marshal(s.snapshot()); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "devices": s.devices.Count()})
}

// decode reads a JSON body into dst and validates it, answering 400 itself
// on failure. Returns true when the handler may proceed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
