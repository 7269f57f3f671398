package playback

import (
	"encoding/binary"
	"math"

	"cobalt/log"
	"cobalt/wav"
)

// Cue is a short audible signal for recorder state changes.
type Cue int

const (
	CueStart Cue = iota
	CueStop
	CueError
)

const (
	startFreq   = 1200.0
	endFreq     = 800.0
	errorFreq   = 400.0
	startVolume = 0.3
	endVolume   = 0.3
	errorVolume = 0.4
	startDecay  = 30.0
	endDecay    = 25.0
	errorDecay  = 20.0
)

// CueFormat is the format cue PCM is generated in.
var CueFormat = wav.VoiceFormat

// PCM renders the cue as 16-bit mono samples at CueFormat's rate.
func (c Cue) PCM() []byte {
	rate := int(CueFormat.SampleRate)
	switch c {
	case CueStart:
		return tick(rate, startFreq, 0.05, startVolume, startDecay)
	case CueStop:
		return tick(rate, endFreq, 0.08, endVolume, endDecay)
	default:
		beep := tick(rate, errorFreq, 0.08, errorVolume, errorDecay)
		gap := make([]byte, int(float64(rate)*0.05)*2)
		out := make([]byte, 0, len(beep)*2+len(gap))
		out = append(out, beep...)
		out = append(out, gap...)
		return append(out, beep...)
	}
}

func tick(rate int, freq, duration, volume, decay float64) []byte {
	n := int(float64(rate) * duration)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Cues plays cues through its own sink, cutting off any cue still playing.
type Cues struct {
	sink    Sink
	enabled bool
}

func NewCues(sink Sink, enabled bool) *Cues {
	return &Cues{sink: sink, enabled: enabled}
}

func (c *Cues) Play(cue Cue) {
	if c == nil || !c.enabled || c.sink == nil {
		return
	}
	pcm := cue.PCM()
	pos := 0
	c.sink.Stop()
	err := c.sink.Start(CueFormat, func(dst []byte) int {
		n := copy(dst, pcm[pos:])
		pos += n
		return n
	})
	if err != nil {
		log.Warnf("cue playback: %v", err)
	}
}

func (c *Cues) Close() {
	if c != nil && c.sink != nil {
		c.sink.Stop()
		c.sink.Close()
	}
}
