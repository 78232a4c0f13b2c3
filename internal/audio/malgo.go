package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures from and plays to system devices through miniaudio.
type MalgoBackend struct {
	// DeviceName selects a capture device by name, empty for the system default.
	DeviceName string
}

func (m *MalgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}

// ListSources returns the names of all capture devices
func (m *MalgoBackend) ListSources() ([]string, error) {
	mctx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}
	defer freeMalgoContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	sources := make([]string, 0, len(infos))
	for _, info := range infos {
		sources = append(sources, info.Name())
	}
	return sources, nil
}

func (m *MalgoBackend) OpenInput(ctx context.Context, format Format, onData func(block []float64)) (Device, error) {
	mctx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(format.BufferFrames)

	if m.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			freeMalgoContext(mctx)
			return nil, classifyDeviceError(err)
		}
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name()
		}
		if err := validateSourceInList(m.DeviceName, names); err != nil {
			freeMalgoContext(mctx)
			return nil, err
		}
		for _, info := range infos {
			if info.Name() == m.DeviceName {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				break
			}
		}
	}

	channels := format.Channels
	var block []float64
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			frames := int(frameCount)
			if cap(block) < frames {
				block = make([]float64, frames)
			}
			block = block[:frames]
			decodeF32Mono(block, input, channels)
			onData(block)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeMalgoContext(mctx)
		return nil, classifyDeviceError(err)
	}

	return &malgoDevice{ctx: mctx, device: device}, nil
}

func (m *MalgoBackend) OpenOutput(ctx context.Context, format Format, render func(block []float64)) (Device, error) {
	mctx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(format.BufferFrames)

	channels := format.Channels
	var block []float64
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			frames := int(frameCount)
			if cap(block) < frames {
				block = make([]float64, frames)
			}
			block = block[:frames]
			for i := range block {
				block[i] = 0
			}
			render(block)
			encodeF32Interleaved(output, block, channels)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeMalgoContext(mctx)
		return nil, classifyDeviceError(err)
	}

	return &malgoDevice{ctx: mctx, device: device}, nil
}

type malgoDevice struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (d *malgoDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return ErrStreamClosed
	}
	if err := d.device.Start(); err != nil {
		return classifyDeviceError(err)
	}
	return nil
}

func (d *malgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}
	if err := d.device.Stop(); err != nil {
		slog.Debug("malgo device stop failed", "error", err)
	}
	d.device.Uninit()
	d.device = nil
	freeMalgoContext(d.ctx)
	d.ctx = nil
	return nil
}

func initMalgoContext() (*malgo.AllocatedContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return mctx, nil
}

func freeMalgoContext(mctx *malgo.AllocatedContext) {
	if mctx == nil {
		return
	}
	_ = mctx.Uninit()
	mctx.Free()
}

// classifyDeviceError maps backend failures onto the driver error taxonomy.
func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

// decodeF32Mono downmixes interleaved little-endian float32 frames into dst.
func decodeF32Mono(dst []float64, src []byte, channels int) {
	if channels < 1 {
		channels = 1
	}
	for i := range dst {
		var sum float64
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 4
			if off+4 > len(src) {
				break
			}
			sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(src[off:])))
		}
		dst[i] = sum / float64(channels)
	}
}

// encodeF32Interleaved writes mono samples to every channel of dst.
func encodeF32Interleaved(dst []byte, src []float64, channels int) {
	if channels < 1 {
		channels = 1
	}
	for i, s := range src {
		bits := math.Float32bits(float32(s))
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 4
			if off+4 > len(dst) {
				return
			}
			binary.LittleEndian.PutUint32(dst[off:], bits)
		}
	}
}
