//go:build !linux

package playback

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"cobalt/wav"
)

type malgoSink struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
	fill   atomic.Pointer[FillFunc]
}

// NewSink opens the default output through miniaudio.
func NewSink() (Sink, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo context: %w", err)
	}
	return &malgoSink{ctx: ctx}, nil
}

func (s *malgoSink) Start(format wav.Format, fill FillFunc) error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(format.Channels)
	config.SampleRate = format.SampleRate

	s.fill.Store(&fill)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := 0
			if f := s.fill.Load(); f != nil {
				n = (*f)(out)
				if n == 0 {
					s.fill.Store(nil)
				}
			}
			// Silence after the end
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("malgo playback start: %w", err)
	}
	s.mu.Lock()
	s.device = device
	s.mu.Unlock()
	return nil
}

func (s *malgoSink) Stop() {
	s.fill.Store(nil)
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.mu.Unlock()
	if device != nil {
		if device.IsStarted() {
			device.Stop()
		}
		device.Uninit()
	}
}

func (s *malgoSink) Close() {
	s.Stop()
	s.ctx.Uninit()
	s.ctx.Free()
}
