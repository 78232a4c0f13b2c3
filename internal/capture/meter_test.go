package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio/mock"
)

const testInterval = 10 * time.Millisecond

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSignalMeter_AbsoluteLevel(t *testing.T) {
	sensor := &mock.MeterSink{}
	sensor.SetLevel(-0.4)

	m := NewSignalMeter(sensor, testInterval)
	m.Start()
	defer m.Stop()

	waitFor(t, func() bool { return m.Level() != 0 })
	if m.Level() != 0.4 {
		t.Errorf("Expected level 0.4, got %v", m.Level())
	}
}

func TestSignalMeter_DefaultInterval(t *testing.T) {
	m := NewSignalMeter(&mock.MeterSink{}, 0)
	if m.Interval() != 250*time.Millisecond {
		t.Errorf("Expected 250ms default interval, got %v", m.Interval())
	}
}

func TestSignalMeter_ReadingsCadence(t *testing.T) {
	sensor := &mock.MeterSink{}
	sensor.SetLevel(-0.25)

	m := NewSignalMeter(sensor, testInterval)
	m.Start()
	defer m.Stop()

	var readings []Reading
	for r := range m.Readings(context.Background()) {
		readings = append(readings, r)
		if len(readings) == 4 {
			break
		}
	}

	for i, r := range readings {
		if r.Level < 0 {
			t.Errorf("Reading %d negative: %v", i, r.Level)
		}
		if i > 0 {
			gap := r.At.Sub(readings[i-1].At)
			if gap < testInterval/2 {
				t.Errorf("Reading %d arrived %v after previous, expected ~%v", i, gap, testInterval)
			}
		}
	}
}

func TestSignalMeter_NoReadsAfterStop(t *testing.T) {
	sensor := &mock.MeterSink{}
	m := NewSignalMeter(sensor, testInterval)
	m.Start()

	waitFor(t, func() bool { return sensor.ReadCount() >= 2 })
	m.Stop()

	reads := sensor.ReadCount()
	time.Sleep(5 * testInterval)
	if sensor.ReadCount() != reads {
		t.Errorf("Expected no reads after Stop, got %d more", sensor.ReadCount()-reads)
	}

	m.Start()
	time.Sleep(3 * testInterval)
	if sensor.ReadCount() != reads {
		t.Error("Expected a stopped meter not to restart")
	}
}

func TestSignalMeter_ReadingsEndOnStop(t *testing.T) {
	m := NewSignalMeter(&mock.MeterSink{}, testInterval)
	m.Start()

	done := make(chan int)
	go func() {
		n := 0
		for range m.Readings(context.Background()) {
			n++
		}
		done <- n
	}()

	time.Sleep(3 * testInterval)
	m.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Readings did not end after Stop")
	}

	for range m.Readings(context.Background()) {
		t.Fatal("Expected no readings from a stopped meter")
	}
}

func TestSignalMeter_ReadingsContextCancel(t *testing.T) {
	m := NewSignalMeter(&mock.MeterSink{}, time.Hour)
	m.Start()
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	for range m.Readings(ctx) {
		t.Fatal("Expected no readings within the timeout")
	}
}

func TestSignalMeter_Observer(t *testing.T) {
	sensor := &mock.MeterSink{}
	sensor.SetLevel(0.3)

	var mu sync.Mutex
	var seen []float64
	m := NewSignalMeter(sensor, testInterval, WithObserver(func(r Reading) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Level)
	}))
	m.Start()
	defer m.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	for _, v := range seen {
		if v != 0.3 {
			t.Errorf("Expected observed level 0.3, got %v", v)
		}
	}
}
