package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/audio/mock"
	"github.com/audiolibrelab/fxrecorder/internal/config"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/recorder"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Meter.Interval = 10 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, drv *mock.Driver) *RecorderService {
	t.Helper()
	svc := New(testConfig(), drv, WithMetrics(observe.DefaultMetrics()))
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestRecordToggle_FullCycle(t *testing.T) {
	drv := &mock.Driver{}
	svc := newTestService(t, drv)
	ctx := context.Background()

	status, err := svc.RecordToggle(ctx)
	if err != nil {
		t.Fatalf("First toggle failed: %v", err)
	}
	if status != recorder.StatusRecording {
		t.Errorf("Expected recording, got %s", status)
	}
	if drv.CallCountOpenMicrophone != 1 {
		t.Errorf("Expected microphone opened on demand, got %d opens", drv.CallCountOpenMicrophone)
	}

	drv.Streams[0].Emit(make([]float64, 24000))

	status, err = svc.RecordToggle(ctx)
	if err != nil {
		t.Fatalf("Second toggle failed: %v", err)
	}
	if status != recorder.StatusComplete {
		t.Errorf("Expected complete, got %s", status)
	}

	info := svc.Status()
	if info.Duration != 0.5 {
		t.Errorf("Expected 0.5s take, got %v", info.Duration)
	}
	if !info.Ready {
		t.Error("Expected microphone to stay open between takes")
	}
	if info.TakeID == "" {
		t.Error("Expected take id in status")
	}
}

func TestRecordToggle_PermissionDenied(t *testing.T) {
	drv := &mock.Driver{OpenMicrophoneError: audio.ErrPermissionDenied}
	svc := newTestService(t, drv)

	status, err := svc.RecordToggle(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if status != recorder.StatusIdle {
		t.Errorf("Expected idle, got %s", status)
	}
	if svc.GetLastError() == "" {
		t.Error("Expected last error to be recorded")
	}

	drv.OpenMicrophoneError = nil
	if _, err := svc.RecordToggle(context.Background()); err != nil {
		t.Fatalf("Expected toggle to succeed once permission is granted, got %v", err)
	}
	if svc.GetLastError() != "" {
		t.Errorf("Expected last error cleared, got %q", svc.GetLastError())
	}
}

func TestReverseToggle(t *testing.T) {
	drv := &mock.Driver{}
	svc := newTestService(t, drv)
	ctx := context.Background()

	if _, err := svc.RecordToggle(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := svc.RecordToggle(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	reverse, err := svc.ReverseToggle(ctx)
	if err != nil {
		t.Fatalf("ReverseToggle failed: %v", err)
	}
	if !reverse || !svc.Status().Reverse {
		t.Error("Expected reverse on after first toggle")
	}

	reverse, err = svc.ReverseToggle(ctx)
	if err != nil {
		t.Fatalf("ReverseToggle failed: %v", err)
	}
	if reverse || drv.Playables[0].Reverse() {
		t.Error("Expected reverse off after second toggle")
	}
}

func TestPhaserFrequencyChange_KeepsOtherSettings(t *testing.T) {
	drv := &mock.Driver{}
	svc := newTestService(t, drv)
	ctx := context.Background()

	if err := svc.ChangeEffect(ctx, fx.Config{Phaser: &fx.PhaserParams{Frequency: 800, Octaves: 3}}); err != nil {
		t.Fatalf("ChangeEffect failed: %v", err)
	}
	if err := svc.PhaserFrequencyChange(ctx, 1600); err != nil {
		t.Fatalf("PhaserFrequencyChange failed: %v", err)
	}

	phaser := svc.Status().Effects.Phaser
	if phaser == nil {
		t.Fatal("Expected phaser active")
	}
	if phaser.Frequency != 1600 || phaser.Octaves != 3 {
		t.Errorf("Expected frequency 1600 with octaves 3, got %+v", phaser)
	}
}

func TestPhaserFrequencyChange_Invalid(t *testing.T) {
	svc := newTestService(t, &mock.Driver{})

	for _, hz := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		if err := svc.PhaserFrequencyChange(context.Background(), hz); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("Expected ErrInvalidParameter for %v, got %v", hz, err)
		}
	}
	if svc.Status().Effects.Phaser != nil {
		t.Error("Expected phaser to stay inactive")
	}
}

func TestPlay_BeforeTake(t *testing.T) {
	svc := newTestService(t, &mock.Driver{})

	if err := svc.Play(); !errors.Is(err, recorder.ErrNoPlayable) {
		t.Errorf("Expected ErrNoPlayable, got %v", err)
	}
	if svc.GetLastError() == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestLevelObserver_RecordsGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	drv := &mock.Driver{}
	drv.Meter().SetLevel(-0.4)
	svc := New(testConfig(), drv, WithMetrics(metrics))
	defer svc.Close()

	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		if v, ok := gaugeValue(rm, "fxrecorder.meter.level"); ok {
			if v != 0.4 {
				t.Errorf("Expected level 0.4, got %v", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("meter level never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func gaugeValue(rm metricdata.ResourceMetrics, name string) (float64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[float64])
			if !ok || len(g.DataPoints) == 0 {
				return 0, false
			}
			return g.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestClose_ReleasesDriver(t *testing.T) {
	drv := &mock.Driver{}
	svc := New(testConfig(), drv, WithMetrics(observe.DefaultMetrics()))

	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !drv.Streams[0].Closed() {
		t.Error("Expected microphone stream closed")
	}
	if drv.CallCountClose != 1 {
		t.Errorf("Expected driver closed once, got %d", drv.CallCountClose)
	}
}
