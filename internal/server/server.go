package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/capture"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/recorder"
	"github.com/audiolibrelab/fxrecorder/internal/service"
)

// maxBodyBytes caps JSON effect payloads.
const maxBodyBytes = 64 << 10

// Server represents the HTTP control surface for the recorder
type Server struct {
	service service.Service
	metrics *observe.Metrics
	address string
	handler http.Handler
}

// GenericResponse is the JSON body of every intent endpoint
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server for svc listening on address.
func New(svc service.Service, address string, opts ...Option) *Server {
	s := &Server{
		service: svc,
		address: address,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /record", s.handleRecordToggle)
	mux.HandleFunc("POST /play", s.handlePlay)
	mux.HandleFunc("POST /pause", s.handlePause)
	mux.HandleFunc("POST /fx/reverse", s.handleReverseToggle)
	mux.HandleFunc("POST /fx/phaser", s.handlePhaser)
	mux.HandleFunc("POST /fx", s.handleEffects)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the routed handler wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting FXRecorder server", "address", s.address, "local_url", localURL(s.address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	slog.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// handleRecordToggle starts or stops a take
func (s *Server) handleRecordToggle(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.RecordToggle(r.Context())
	if err != nil {
		s.sendError(w, r, err, "operation", "record_toggle")
		return
	}

	message := "Recording started"
	if status == recorder.StatusComplete {
		message = "Recording complete"
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Play(); err != nil {
		s.sendError(w, r, err, "operation", "play")
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Playing"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Pause(); err != nil {
		s.sendError(w, r, err, "operation", "pause")
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Paused"})
}

func (s *Server) handleReverseToggle(w http.ResponseWriter, r *http.Request) {
	reverse, err := s.service.ReverseToggle(r.Context())
	if err != nil {
		s.sendError(w, r, err, "operation", "reverse_toggle")
		return
	}
	message := "Reverse off"
	if reverse {
		message = "Reverse on"
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

// handlePhaser sets the phaser frequency from the "frequency" query or form value
func (s *Server) handlePhaser(w http.ResponseWriter, r *http.Request) {
	raw := r.FormValue("frequency")
	if raw == "" {
		s.sendErrorStatus(w, r, http.StatusBadRequest, "frequency is required")
		return
	}
	hz, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.sendErrorStatus(w, r, http.StatusBadRequest, fmt.Sprintf("invalid frequency %q", raw))
		return
	}

	if err := s.service.PhaserFrequencyChange(r.Context(), hz); err != nil {
		s.sendError(w, r, err, "operation", "phaser_frequency", "frequency", hz)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("Phaser at %g Hz", hz)})
}

// handleEffects merges a JSON partial effect configuration
func (s *Server) handleEffects(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var partial fx.Config
	if err := dec.Decode(&partial); err != nil {
		s.sendErrorStatus(w, r, http.StatusBadRequest, fmt.Sprintf("invalid effect configuration: %v", err))
		return
	}

	if err := s.service.ChangeEffect(r.Context(), partial); err != nil {
		s.sendError(w, r, err, "operation", "change_effect")
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Effects updated"})
}

// handleStatus returns the current observable state
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, s.service.Status())
}

// statusCode maps the error taxonomy onto HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, recorder.ErrIllegalTransition),
		errors.Is(err, recorder.ErrNoPlayable),
		errors.Is(err, capture.ErrAlreadyRecording),
		errors.Is(err, capture.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied),
		errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, fx.ErrApplyFailed),
		errors.Is(err, service.ErrInvalidParameter):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error, logContext ...any) {
	code := statusCode(err)
	fields := append([]any{"error", err, "status_code", code}, logContext...)
	observe.Logger(r.Context()).Error("Sending error response to client", fields...)
	sendJSON(w, code, GenericResponse{Success: false, Error: err.Error()})
}

func (s *Server) sendErrorStatus(w http.ResponseWriter, r *http.Request, code int, msg string) {
	observe.Logger(r.Context()).Warn("Rejecting request", "error_message", msg, "status_code", code, "path", r.URL.Path)
	sendJSON(w, code, GenericResponse{Success: false, Error: msg})
}

func sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// localURL returns a LAN URL for address so the server can be reached from
// another device.
func localURL(address string) string {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return ""
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return fmt.Sprintf("http://localhost:%s", port)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return fmt.Sprintf("http://%s:%s", localAddr.IP.String(), port)
}
