package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio/mock"
	"github.com/audiolibrelab/fxrecorder/internal/config"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/recorder"
	"github.com/audiolibrelab/fxrecorder/internal/service"

	"github.com/spf13/cobra"
)

func newTestService(t *testing.T) (*service.RecorderService, *mock.Driver) {
	t.Helper()
	c := config.Default()
	c.Meter.Interval = 10 * time.Millisecond
	drv := &mock.Driver{}
	svc := service.New(c, drv, service.WithMetrics(observe.DefaultMetrics()))
	t.Cleanup(func() { _ = svc.Close() })
	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return svc, drv
}

func TestHandleLine_Session(t *testing.T) {
	svc, drv := newTestService(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := handleLine(ctx, &out, svc, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.Status().Status != recorder.StatusRecording {
		t.Fatalf("Expected recording, got %s", svc.Status().Status)
	}
	drv.Streams[0].Emit(make([]float64, 4800))

	steps := []string{"", "f 1600", "r", "p", "s"}
	for _, line := range steps {
		if err := handleLine(ctx, &out, svc, line); err != nil {
			t.Fatalf("%q failed: %v", line, err)
		}
	}

	st := svc.Status()
	if st.Status != recorder.StatusComplete {
		t.Errorf("Expected complete, got %s", st.Status)
	}
	if st.Effects.Phaser == nil || st.Effects.Phaser.Frequency != 1600 {
		t.Errorf("Expected phaser at 1600, got %+v", st.Effects.Phaser)
	}
	if !st.Reverse {
		t.Error("Expected reverse on")
	}
	if st.Playing {
		t.Error("Expected paused")
	}
	if !strings.Contains(out.String(), "Take complete (0.1s)") {
		t.Errorf("Expected completion message, got:\n%s", out.String())
	}
}

func TestHandleLine_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := handleLine(ctx, &out, svc, "q"); !errors.Is(err, errQuit) {
		t.Errorf("Expected errQuit, got %v", err)
	}
	if err := handleLine(ctx, &out, svc, "p"); !errors.Is(err, recorder.ErrNoPlayable) {
		t.Errorf("Expected ErrNoPlayable, got %v", err)
	}
	for _, line := range []string{"f", "f loud", "dance"} {
		if err := handleLine(ctx, &out, svc, line); err == nil {
			t.Errorf("Expected error for %q", line)
		}
	}
}

func TestEffectsFromFlags(t *testing.T) {
	c := &cobra.Command{Use: "record"}
	addEffectFlags(c)
	if err := c.Flags().Parse([]string{"--reverse", "--phaser", "800", "--pitch", "-3"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	partial, err := effectsFromFlags(c)
	if err != nil {
		t.Fatalf("effectsFromFlags failed: %v", err)
	}
	if !partial.Reversed() {
		t.Error("Expected reverse")
	}
	if partial.Phaser == nil || partial.Phaser.Frequency != 800 {
		t.Errorf("Expected phaser 800, got %+v", partial.Phaser)
	}
	if partial.PitchShift == nil || partial.PitchShift.Semitones != -3 {
		t.Errorf("Expected pitch -3, got %+v", partial.PitchShift)
	}
	if partial.Delay != nil || partial.Reverb != nil || partial.Filter != nil {
		t.Error("Expected unset flags to leave stages inactive")
	}
}

func TestLevelBar(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0, "[    ]"},
		{0.5, "[##  ]"},
		{1, "[####]"},
		{3, "[####]"},
	}
	for _, tt := range tests {
		if got := levelBar(tt.level, 4); got != tt.want {
			t.Errorf("levelBar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestEffectsCommand_ListsStagesInOrder(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"effects"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("effects failed: %v", err)
	}

	got := out.String()
	order := []string{"reverse", "phaser", "delay", "reverb", "bitcrusher", "filter", "pitchshift"}
	last := -1
	for _, name := range order {
		i := strings.Index(got, name)
		if i < 0 {
			t.Fatalf("Expected %s in output:\n%s", name, got)
		}
		if i < last {
			t.Errorf("Expected %s after the previous stage", name)
		}
		last = i
	}
}
