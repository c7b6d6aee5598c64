// Package api exposes a Session over HTTP: JSON control endpoints plus a
// server-sent event feed of observer updates.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
	"github.com/satindergrewal/stemdeck/internal/session"
)

// Server routes API requests to a session.
type Server struct {
	sess *session.Session
	hub  *EventHub
	mux  *http.ServeMux

	// Listeners, when set, reports monitor stream listener counts for /api/state.
	Listeners func() (httpCount, webrtcCount int)
}

// NewServer builds the route table. hub should be the session's observer.
func NewServer(sess *session.Session, hub *EventHub) *Server {
	s := &Server{sess: sess, hub: hub, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.Handle("GET /api/events", hub)

	s.mux.HandleFunc("POST /api/tracks/{i}/load", s.handleLoad)
	s.mux.HandleFunc("POST /api/tracks/{i}/reload", s.trackAction(s.sess.ReloadTrack))
	s.mux.HandleFunc("POST /api/tracks/{i}/clear", s.trackAction(s.sess.ClearTrack))
	s.mux.HandleFunc("POST /api/tracks/{i}/volume", s.handleVolume)
	s.mux.HandleFunc("POST /api/tracks/{i}/estimate-bpm", s.handleEstimate)
	s.mux.HandleFunc("POST /api/tracks/{i}/eq/{mode}", s.handleEqualizer)
	s.mux.HandleFunc("POST /api/tracks/{i}/trim/{mode}", s.handleTrim)
	s.mux.HandleFunc("POST /api/preview/stop", s.handlePreviewStop)

	s.mux.HandleFunc("POST /api/bpm", s.handleBPM)
	s.mux.HandleFunc("POST /api/transport/seek", s.handleSeek)
	s.mux.HandleFunc("POST /api/transport/{action}", s.handleTransport)

	s.mux.HandleFunc("POST /api/grid/toggle", s.handleToggle)
	s.mux.HandleFunc("POST /api/timeline/{action}", s.handleTimeline)

	s.mux.HandleFunc("POST /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/project/{action}", s.handleProject)
	return s
}

// Handle mounts an extra handler, such as the monitor streams.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.mux.ServeHTTP(w, r)
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: encode response: %v", err)
	}
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	out := map[string]any{"ok": true}
	for k, v := range fields {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch audio.KindOf(err) {
	case audio.KindInvalidRange, audio.KindFormatMismatch, audio.KindUnsupportedFormat:
		return http.StatusBadRequest
	case audio.KindIO:
		if errors.Is(err, fs.ErrNotExist) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]any{
		"ok":    false,
		"error": audio.Describe(err),
		"kind":  string(audio.KindOf(err)),
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func trackIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("i"))
	if err != nil {
		badRequest(w, "invalid track index")
		return 0, false
	}
	return i, true
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// --- Handlers ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Status()
	out := map[string]any{
		"session":         st,
		"sse_subscribers": s.hub.Subscribers(),
	}
	if s.Listeners != nil {
		h, rtc := s.Listeners()
		out["http_listeners"] = h
		out["webrtc_listeners"] = rtc
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	i, ok := trackIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Path    string `json:"path"`
		InPlace bool   `json:"in_place"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		badRequest(w, "path required")
		return
	}
	load := s.sess.LoadTrack
	if req.InPlace {
		load = s.sess.LoadTrackFile
	}
	if err := load(i, req.Path); err != nil {
		writeError(w, err)
		return
	}
	tr, _ := s.sess.Track(i)
	writeOK(w, map[string]any{"label": tr.Label(i), "duration": tr.Duration().Seconds()})
}

func (s *Server) trackAction(fn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := trackIndex(w, r)
		if !ok {
			return
		}
		if err := fn(i); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, nil)
	}
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	i, ok := trackIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Volume float64 `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetVolume(i, req.Volume); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"volume": req.Volume})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	i, ok := trackIndex(w, r)
	if !ok {
		return
	}
	bpm, err := s.sess.EstimateBPM(i)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"bpm": bpm})
}

func (s *Server) handleEqualizer(w http.ResponseWriter, r *http.Request) {
	i, ok := trackIndex(w, r)
	if !ok {
		return
	}
	var bands dsp.Bands
	if !decode(w, r, &bands) {
		return
	}
	var err error
	switch r.PathValue("mode") {
	case "preview":
		err = s.sess.PreviewEqualizer(i, bands)
	case "apply":
		err = s.sess.ApplyEqualizer(i, bands)
	default:
		badRequest(w, "mode must be preview or apply")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	i, ok := trackIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	if !decode(w, r, &req) {
		return
	}
	var err error
	switch r.PathValue("mode") {
	case "preview":
		err = s.sess.PreviewTrim(i, seconds(req.Start), seconds(req.End))
	case "apply":
		err = s.sess.ApplyTrim(i, seconds(req.Start), seconds(req.End))
	default:
		badRequest(w, "mode must be preview or apply")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePreviewStop(w http.ResponseWriter, r *http.Request) {
	s.sess.StopPreview()
	writeOK(w, nil)
}

func (s *Server) handleBPM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BPM float64 `json:"bpm"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetBPM(req.BPM); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"bpm": req.BPM})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position float64 `json:"position"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.Seek(seconds(req.Position)); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"state": s.sess.State().String()})
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "play":
		if err := s.sess.Play(); err != nil {
			writeError(w, err)
			return
		}
	case "pause":
		s.sess.Pause()
	case "resume":
		if _, err := s.sess.Resume(); err != nil {
			writeError(w, err)
			return
		}
	case "stop":
		s.sess.Stop()
	default:
		badRequest(w, "unknown transport action")
		return
	}
	writeOK(w, map[string]any{"state": s.sess.State().String()})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Row int `json:"row"`
		Col int `json:"col"`
	}
	if !decode(w, r, &req) {
		return
	}
	on, err := s.sess.ToggleCell(req.Row, req.Col)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"active": on})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "play":
		if err := s.sess.PlayTimeline(); err != nil {
			writeError(w, err)
			return
		}
	case "stop":
		s.sess.StopTimeline()
	default:
		badRequest(w, "unknown timeline action")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Mode    string `json:"mode"`
		Bitrate string `json:"bitrate"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		badRequest(w, "path required")
		return
	}
	var err error
	switch req.Mode {
	case "", "mix":
		err = s.sess.ExportMix(req.Path, req.Bitrate)
	case "timeline":
		err = s.sess.ExportTimeline(req.Path, req.Bitrate)
	default:
		badRequest(w, "mode must be mix or timeline")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"path": req.Path})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		badRequest(w, "path required")
		return
	}
	switch r.PathValue("action") {
	case "save":
		out, err := s.sess.SaveProject(req.Path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]any{"path": out})
	case "load":
		if err := s.sess.LoadProject(req.Path); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, nil)
	default:
		badRequest(w, "unknown project action")
	}
}
