package voice

import "time"

const (
	TickInterval       = 100 * time.Millisecond
	silenceWarnEvery   = 8 * time.Second
	silenceAutoStopDur = 30 * time.Second
	speechMinRatio     = 0.10
	speechClearRatio   = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // remind every 8s
	SilenceAutoStop               // 30s without speech
)

func (e SilenceEvent) String() string {
	switch e {
	case SilenceWarn:
		return "warn"
	case SilenceWarnClear:
		return "clear"
	case SilenceRepeat:
		return "repeat"
	case SilenceAutoStop:
		return "autostop"
	}
	return "none"
}

// Monitor turns per-tick speech flags into warnings. Feed it once every
// TickInterval while recording.
type Monitor struct {
	warnAt   int
	windowSz int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastWarn    int
}

// NewMonitor returns a monitor that warns after 8s of silence. With autoStop
// it also reminds every 8s and asks to stop after 30s.
func NewMonitor(autoStop bool) *Monitor {
	warnAt := int(silenceWarnEvery / TickInterval)
	windowSz := int(silenceAutoStopDur / TickInterval)
	return &Monitor{
		warnAt:   warnAt,
		windowSz: windowSz,
		autoStop: autoStop,
		window:   make([]bool, windowSz),
	}
}

func (m *Monitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *Monitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	if !m.autoStop {
		return SilenceNone
	}

	// auto-stop wins over the reminder
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoStop
	}

	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}

	return SilenceNone
}

// Reset forgets history, e.g. when a paused recording resumes.
func (m *Monitor) Reset() {
	m.ticks = 0
	m.speechCount = 0
	m.warned = false
	m.lastWarn = 0
	clear(m.window)
}
