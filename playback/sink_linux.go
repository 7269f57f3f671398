//go:build linux

package playback

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"

	"cobalt/wav"
)

type pulseSink struct {
	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.PlaybackStream
}

// NewSink connects to the PulseAudio server.
func NewSink() (Sink, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse client: %w", err)
	}
	return &pulseSink{client: c}, nil
}

func (s *pulseSink) Start(format wav.Format, fill FillFunc) error {
	var buf []byte
	reader := pulse.Int16Reader(func(out []int16) (int, error) {
		if cap(buf) < len(out)*2 {
			buf = make([]byte, len(out)*2)
		}
		b := buf[:len(out)*2]
		n := fill(b) / 2
		if n == 0 {
			return 0, pulse.EndOfData
		}
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
		}
		return n, nil
	})

	layout := pulse.PlaybackMono
	if format.Channels == 2 {
		layout = pulse.PlaybackStereo
	}
	stream, err := s.client.NewPlayback(reader,
		layout,
		pulse.PlaybackSampleRate(int(format.SampleRate)),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	stream.Start()
	return nil
}

func (s *pulseSink) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream != nil {
		stream.Stop()
		stream.Close()
	}
}

func (s *pulseSink) Close() {
	s.Stop()
	s.client.Close()
}
