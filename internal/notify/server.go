package notify

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/searchsync/internal/syncer"
)

// Submitter accepts validated events for processing.
type Submitter interface {
	Submit(ev syncer.Event) error
}

// ServerConfig configures the HTTP intake.
type ServerConfig struct {
	MaxBodyBytes int64
}

// Server is the HTTP event intake.
//
// Routes:
//
//	POST /events   one event or an array; 202 {"accepted": n}
//	GET  /healthz  200 {"status": "ok"}
type Server struct {
	validator *Validator
	sink      Submitter
	cfg       ServerConfig
	logger    *slog.Logger
}

// NewServer creates the intake handler.
func NewServer(v *Validator, sink Submitter, cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{validator: v, sink: sink, cfg: cfg, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/healthz" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/events" && r.Method == http.MethodPost:
		s.handleEvents(w, r)
	case r.URL.Path == "/events" || r.URL.Path == "/healthz":
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	events, err := s.validator.Decode(body)
	if err != nil {
		s.logger.Warn("rejected event payload", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	accepted := 0
	for _, ev := range events {
		if err := s.sink.Submit(ev); err != nil {
			if errors.Is(err, syncer.ErrDispatcherClosed) {
				writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
