package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Live capture format: 16 kHz mono s16, the rate the gateway transcription
// models expect.
const (
	captureSampleRate = 16000
	captureChannels   = 1
)

// MalgoRecorder captures from the default system microphone via miniaudio.
type MalgoRecorder struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (r *MalgoRecorder) Start(onChunk func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		return fmt.Errorf("capture device already in use")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = captureChannels
	deviceConfig.SampleRate = captureSampleRate
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSamples, pInputSamples []byte, framecount uint32) {
			if len(pInputSamples) == 0 {
				return
			}
			chunk := make([]byte, len(pInputSamples))
			copy(chunk, pInputSamples)
			onChunk(chunk)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("open capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	r.ctx = ctx
	r.device = device
	return nil
}

func (r *MalgoRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	if r.ctx != nil {
		_ = r.ctx.Uninit()
		r.ctx.Free()
		r.ctx = nil
	}
	return nil
}
