package audio

import (
	"fmt"
	"io"
	"sync"
)

// DefaultStreamBuffer holds ten seconds of voice-profile audio.
const DefaultStreamBuffer = 10 * 16000 * 2

// StreamReader turns a CaptureDevice's callbacks into an io.Reader. Read
// blocks until audio arrives and returns io.EOF once the reader is closed and
// drained. Stopping the device keeps the reader open so capture can resume.
type StreamReader struct {
	dev CaptureDevice
	max int

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []byte
	accepting bool
	started   bool
	closed    bool
	overruns  int
	total     int64
}

func NewStreamReader(dev CaptureDevice, maxBuffered int) *StreamReader {
	if maxBuffered <= 0 {
		maxBuffered = DefaultStreamBuffer
	}
	r := &StreamReader{dev: dev, max: maxBuffered}
	r.cond = sync.NewCond(&r.mu)
	dev.SetCallback(r.push)
	return r
}

func (r *StreamReader) push(data []byte, _ uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.accepting || r.closed {
		return
	}
	r.pending = append(r.pending, data...)
	r.total += int64(len(data))
	if over := len(r.pending) - r.max; over > 0 {
		// drop oldest, keeping sample alignment
		over += over & 1
		r.pending = r.pending[over:]
		r.overruns++
	}
	r.cond.Broadcast()
}

// Start begins delivering audio. It is a no-op while already started.
func (r *StreamReader) Start() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: stream closed", ErrHardwareUnavailable)
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.accepting = true
	r.started = true
	r.mu.Unlock()

	if err := r.dev.Start(); err != nil {
		r.mu.Lock()
		r.accepting = false
		r.started = false
		r.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	return nil
}

// Stop halts the device. Audio already buffered stays readable and nothing
// arriving afterwards is kept.
func (r *StreamReader) Stop() {
	r.mu.Lock()
	r.accepting = false
	wasStarted := r.started
	r.started = false
	r.mu.Unlock()
	if wasStarted {
		r.dev.Stop()
	}
}

// Close stops the device and wakes any blocked Read. The underlying device
// is closed too.
func (r *StreamReader) Close() error {
	r.Stop()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	r.dev.ClearCallback()
	r.dev.Close()
	return nil
}

func (r *StreamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.pending) == 0 && !r.closed {
		r.cond.Wait()
	}
	if len(r.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return n, nil
}

// Overruns counts how often buffered audio was dropped because the reader
// fell behind.
func (r *StreamReader) Overruns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overruns
}

// Received is the total number of bytes the device delivered while started.
func (r *StreamReader) Received() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *StreamReader) DeviceName() string { return r.dev.DeviceName() }
