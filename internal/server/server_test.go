package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/audio/mock"
	"github.com/audiolibrelab/fxrecorder/internal/capture"
	"github.com/audiolibrelab/fxrecorder/internal/config"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/recorder"
	"github.com/audiolibrelab/fxrecorder/internal/service"
)

// fakeService records intents and returns preset errors.
type fakeService struct {
	ToggleStatus recorder.Status
	ToggleError  error
	PlayError    error
	EffectError  error

	PhaserCalls []float64
	Effects     []fx.Config
	StatusValue service.StatusInfo
}

func (f *fakeService) Open(context.Context) error { return nil }
func (f *fakeService) Close() error { return nil }

func (f *fakeService) RecordToggle(context.Context) (recorder.Status, error) {
	return f.ToggleStatus, f.ToggleError
}

func (f *fakeService) Play() error { return f.PlayError }
func (f *fakeService) Pause() error { return f.PlayError }

func (f *fakeService) ReverseToggle(context.Context) (bool, error) {
	return true, f.EffectError
}

func (f *fakeService) PhaserFrequencyChange(_ context.Context, hz float64) error {
	f.PhaserCalls = append(f.PhaserCalls, hz)
	return f.EffectError
}

func (f *fakeService) ChangeEffect(_ context.Context, partial fx.Config) error {
	f.Effects = append(f.Effects, partial)
	return f.EffectError
}

func (f *fakeService) Status() service.StatusInfo { return f.StatusValue }
func (f *fakeService) GetConfig() *config.Config { return config.Default() }
func (f *fakeService) GetLastError() string { return "" }

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) GenericResponse {
	t.Helper()
	var resp GenericResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestRecordToggle_Messages(t *testing.T) {
	svc := &fakeService{ToggleStatus: recorder.StatusRecording}
	h := New(svc, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	rec := do(t, h, http.MethodPost, "/record", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp := decode(t, rec); !resp.Success || resp.Message != "Recording started" {
		t.Errorf("Unexpected response %+v", resp)
	}

	svc.ToggleStatus = recorder.StatusComplete
	rec = do(t, h, http.MethodPost, "/record", "")
	if resp := decode(t, rec); resp.Message != "Recording complete" {
		t.Errorf("Expected completion message, got %q", resp.Message)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"illegal transition", fmt.Errorf("%w: stop while idle", recorder.ErrIllegalTransition), http.StatusConflict},
		{"already recording", capture.ErrAlreadyRecording, http.StatusConflict},
		{"permission denied", fmt.Errorf("open: %w", audio.ErrPermissionDenied), http.StatusServiceUnavailable},
		{"device unavailable", capture.ErrNotOpen, http.StatusServiceUnavailable},
		{"apply failed", fmt.Errorf("%w: create phaser", fx.ErrApplyFailed), http.StatusUnprocessableEntity},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{ToggleError: tt.err}
			h := New(svc, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

			rec := do(t, h, http.MethodPost, "/record", "")
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
			resp := decode(t, rec)
			if resp.Success || resp.Error == "" {
				t.Errorf("Expected failure body, got %+v", resp)
			}
		})
	}
}

func TestPlay_NoPlayable(t *testing.T) {
	svc := &fakeService{PlayError: recorder.ErrNoPlayable}
	h := New(svc, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	for _, path := range []string{"/play", "/pause"} {
		if rec := do(t, h, http.MethodPost, path, ""); rec.Code != http.StatusConflict {
			t.Errorf("%s: expected 409, got %d", path, rec.Code)
		}
	}
}

func TestPhaser_QueryParsing(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	if rec := do(t, h, http.MethodPost, "/fx/phaser?frequency=1600", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(svc.PhaserCalls) != 1 || svc.PhaserCalls[0] != 1600 {
		t.Errorf("Expected one call with 1600, got %v", svc.PhaserCalls)
	}

	for _, target := range []string{"/fx/phaser", "/fx/phaser?frequency=fast"} {
		if rec := do(t, h, http.MethodPost, target, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	if len(svc.PhaserCalls) != 1 {
		t.Error("Expected malformed requests not to reach the service")
	}

	svc.EffectError = fmt.Errorf("%w: phaser frequency -1", service.ErrInvalidParameter)
	if rec := do(t, h, http.MethodPost, "/fx/phaser?frequency=-1", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", rec.Code)
	}
}

func TestEffects_JSONBody(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	rec := do(t, h, http.MethodPost, "/fx", `{"reverse":true,"delay":{"time":0.25,"feedback":0.4}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(svc.Effects) != 1 {
		t.Fatalf("Expected one effect change, got %d", len(svc.Effects))
	}
	got := svc.Effects[0]
	if !got.Reversed() || got.Delay == nil || got.Delay.Time != 0.25 || got.Phaser != nil {
		t.Errorf("Unexpected partial %+v", got)
	}

	if rec := do(t, h, http.MethodPost, "/fx", `{"distortion":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected unknown stage rejected with 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/fx", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected malformed body rejected with 400, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(&fakeService{}, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	if rec := do(t, h, http.MethodGet, "/record", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(&fakeService{}, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestStatus_EndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Meter.Interval = 10 * time.Millisecond
	drv := &mock.Driver{}
	svc := service.New(cfg, drv, service.WithMetrics(observe.DefaultMetrics()))
	defer svc.Close()
	h := New(svc, ":0", WithMetrics(observe.DefaultMetrics())).Handler()

	if rec := do(t, h, http.MethodPost, "/record", ""); rec.Code != http.StatusOK {
		t.Fatalf("Start: expected 200, got %d", rec.Code)
	}
	drv.Streams[0].Emit(make([]float64, 48000))
	if rec := do(t, h, http.MethodPost, "/record", ""); rec.Code != http.StatusOK {
		t.Fatalf("Stop: expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/fx/reverse", ""); rec.Code != http.StatusOK {
		t.Fatalf("Reverse: expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/stop", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected unknown route 404, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status: expected 200, got %d", rec.Code)
	}
	var info service.StatusInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if info.Status != recorder.StatusComplete {
		t.Errorf("Expected complete, got %s", info.Status)
	}
	if info.Duration != 1 {
		t.Errorf("Expected 1s take, got %v", info.Duration)
	}
	if !info.Reverse || !info.Effects.Reversed() {
		t.Error("Expected reverse reported in status")
	}
}
