package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxduplex/internal/observe"
)

// spectrumInterval is the update period of the /spectrum event stream.
const spectrumInterval = 50 * time.Millisecond

type spectrumResponse struct {
	Capture  []float32 `json:"capture"`
	Playback []float32 `json:"playback"`
}

type interruptResponse struct {
	StreamID string `json:"stream_id"`
	Offset   int    `json:"offset"`
}

// Handler returns the HTTP handler serving /healthz, /readyz, /metrics,
// /spectrum and /interrupt, instrumented with [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.HandleFunc("GET /spectrum", a.handleSpectrum)
	mux.HandleFunc("POST /interrupt", a.handleInterrupt)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) spectrum() spectrumResponse {
	return spectrumResponse{
		Capture:  a.rec.Frequencies().Values,
		Playback: a.play.Frequencies().Values,
	}
}

// handleSpectrum returns one snapshot as JSON, or a server-sent event stream
// of snapshots when the client accepts text/event-stream.
func (a *App) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		writeJSON(w, http.StatusOK, a.spectrum())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(spectrumInterval)
	defer ticker.Stop()
	for {
		data, err := json.Marshal(a.spectrum())
		if err != nil {
			slog.Warn("app: encode spectrum", "err", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// acceptsEventStream reports whether any media range of the Accept headers is
// text/event-stream. Wildcards do not count, so plain clients get JSON.
func acceptsEventStream(r *http.Request) bool {
	for _, h := range r.Header.Values("Accept") {
		for _, part := range strings.Split(h, ",") {
			mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err == nil && mt == "text/event-stream" {
				return true
			}
		}
	}
	return false
}

// handleInterrupt stops playback and reports what was cut.
func (a *App) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if !a.sess.Running() {
		http.Error(w, "session not running", http.StatusServiceUnavailable)
		return
	}
	ir := a.sess.Interrupt(r.Context())
	observe.Logger(r.Context()).Info("app: playback interrupted over http", "stream_id", ir.StreamID, "offset", ir.Offset)
	writeJSON(w, http.StatusOK, interruptResponse{StreamID: ir.StreamID, Offset: ir.Offset})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "err", err)
	}
}
