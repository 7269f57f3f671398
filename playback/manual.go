package playback

import (
	"sync"

	"cobalt/wav"
)

// ManualSink is a Sink driven by explicit Pull calls. It backs tests and
// headless runs where no audio output exists.
type ManualSink struct {
	mu       sync.Mutex
	fill     FillFunc
	format   wav.Format
	starts   int
	closed   bool
	StartErr error
}

func (m *ManualSink) Start(format wav.Format, fill FillFunc) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fill = fill
	m.format = format
	m.starts++
	return nil
}

func (m *ManualSink) Stop() {
	m.mu.Lock()
	m.fill = nil
	m.mu.Unlock()
}

func (m *ManualSink) Close() {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Pull requests n bytes as a device callback would and returns what the
// controller supplied. It returns nil when the sink is not running.
func (m *ManualSink) Pull(n int) []byte {
	m.mu.Lock()
	fill := m.fill
	m.mu.Unlock()
	if fill == nil {
		return nil
	}
	buf := make([]byte, n)
	got := fill(buf)
	if got == 0 {
		m.Stop()
	}
	return buf[:got]
}

// Drain pulls until the controller reports the end and returns everything
// it played.
func (m *ManualSink) Drain(chunk int) []byte {
	var out []byte
	for {
		b := m.Pull(chunk)
		if len(b) == 0 {
			return out
		}
		out = append(out, b...)
	}
}

func (m *ManualSink) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fill != nil
}

func (m *ManualSink) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *ManualSink) Format() wav.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}
