package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/roelfdiedericks/goscribe/internal/config"
	"github.com/roelfdiedericks/goscribe/internal/dictation"
	"github.com/roelfdiedericks/goscribe/internal/history"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/stt"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var kindStatus = map[string]int{
	dictation.KindConfiguration: http.StatusBadRequest,
	dictation.KindProvider:      http.StatusBadGateway,
	dictation.KindTimeout:       http.StatusGatewayTimeout,
	dictation.KindTranscode:     http.StatusInternalServerError,
	dictation.KindFilesystem:    http.StatusInternalServerError,
	dictation.KindBusy:          http.StatusConflict,
	dictation.KindInternal:      http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: failed to encode response", "error", err)
	}
}

// writeError maps err onto the error taxonomy and its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := dictation.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: dictation.KindConfiguration})
}

type recordingResponse struct {
	ID               string `json:"id"`
	Transcript       string `json:"transcript"`
	RawTranscript    string `json:"rawTranscript"`
	Pasted           bool   `json:"pasted"`
	PostProcessError string `json:"postProcessError,omitempty"`
	DeliveryError    string `json:"deliveryError,omitempty"`
}

// handleCreateRecording runs the full dictation flow on the uploaded capture buffer.
func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	var duration float64
	if d := r.URL.Query().Get("duration"); d != "" {
		v, err := strconv.ParseFloat(d, 64)
		if err != nil || v < 0 {
			badRequest(w, "duration must be a non-negative number of seconds")
			return
		}
		duration = v
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordingBytes))
	if err != nil {
		badRequest(w, "failed to read recording: "+err.Error())
		return
	}
	if len(data) == 0 {
		badRequest(w, "recording is empty")
		return
	}

	res, err := s.pipeline.CreateRecording(r.Context(), dictation.Recording{Data: data, Duration: duration})
	if err != nil {
		writeError(w, err)
		return
	}

	out := recordingResponse{
		ID:            res.Entry.ID,
		Transcript:    res.Entry.Transcript,
		RawTranscript: res.RawTranscript,
		Pasted:        res.Pasted,
	}
	if res.PostProcessErr != nil {
		out.PostProcessError = res.PostProcessErr.Error()
	}
	if res.DeliveryErr != nil {
		out.DeliveryError = res.DeliveryErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Type != dictation.EventStart && req.Type != dictation.EventEnd {
		badRequest(w, `type must be "start" or "end"`)
		return
	}
	if err := s.pipeline.RecordEvent(req.Type); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.pipeline.State())})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.pipeline.State())})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.DeleteOne(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.DeleteAll(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistoryAudio serves the sidecar recording for playback.
func (s *Server) handleHistoryAudio(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := s.history.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	path := s.history.AudioPath(entry)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

// handleGetConfig never returns API keys in the clear.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Get().Masked())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		badRequest(w, "invalid config JSON: "+err.Error())
		return
	}
	cfg.KeepSecrets(s.config.Get())
	if err := s.config.Update(&cfg); err != nil {
		L_warn("http: config update rejected", "error", err)
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.config.Get().Masked())
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"stt":  stt.IDs(),
		"chat": config.ChatProviders,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
