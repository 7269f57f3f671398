// Package voice estimates whether the microphone is picking up speech while a
// recording runs, so the recorder can warn about a muted or wrong input.
package voice

import (
	"math"
	"sync"
)

const (
	frameMs    = 20
	frameBytes = 16000 * frameMs / 1000 * 2 // 640 bytes of voice-profile PCM

	// DefaultThreshold is the RMS level, relative to full scale, above which
	// a frame counts as speech.
	DefaultThreshold = 0.02
	speechThreshold  = 0.10 // share of frames in a tick that must be speech
)

// Meter tracks level and speech activity of 16-bit mono PCM.
type Meter struct {
	threshold float64

	mu           sync.Mutex
	buf          []byte
	level        float64
	totalFrames  int
	speechFrames int
	tickTotal    int
	tickSpeech   int
}

func NewMeter(threshold float64) *Meter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Meter{threshold: threshold}
}

// Process consumes PCM and returns the RMS level of the chunk in [0, 1].
func (m *Meter) Process(pcm []byte) float64 {
	level := RMS(pcm)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
	m.buf = append(m.buf, pcm...)
	for len(m.buf) >= frameBytes {
		frame := m.buf[:frameBytes]
		m.buf = m.buf[frameBytes:]
		m.totalFrames++
		if RMS(frame) >= m.threshold {
			m.speechFrames++
		}
	}
	return level
}

func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Meter) Stats() (total, speech int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFrames, m.speechFrames
}

// HasSpeechTick reports whether enough frames since the previous call were
// speech.
func (m *Meter) HasSpeechTick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.totalFrames - m.tickTotal
	s := m.speechFrames - m.tickSpeech
	m.tickTotal, m.tickSpeech = m.totalFrames, m.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = m.buf[:0]
	m.level = 0
	m.totalFrames, m.speechFrames = 0, 0
	m.tickTotal, m.tickSpeech = 0, 0
}

// RMS of little-endian 16-bit samples, normalized to full scale.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}
