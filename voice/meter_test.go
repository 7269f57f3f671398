package voice

import (
	"math"
	"testing"
)

func tone(samples int, amp float64) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(amp * 32767 * math.Sin(2*math.Pi*200*float64(i)/16000))
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(uint16(s) >> 8)
	}
	return pcm
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("RMS(nil) != 0")
	}
	if got := RMS(make([]byte, 640)); got != 0 {
		t.Errorf("RMS(silence) = %v", got)
	}
	// sine RMS is amplitude / sqrt2
	got := RMS(tone(16000, 0.5))
	if math.Abs(got-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("RMS(tone) = %v, want ~%v", got, 0.5/math.Sqrt2)
	}
}

func TestMeterSpeechTick(t *testing.T) {
	m := NewMeter(0)
	if m.HasSpeechTick() {
		t.Error("empty tick reported speech")
	}

	m.Process(make([]byte, 3200))
	if m.HasSpeechTick() {
		t.Error("silence reported as speech")
	}

	lvl := m.Process(tone(1600, 0.3))
	if lvl <= DefaultThreshold {
		t.Errorf("level %v not above threshold", lvl)
	}
	if !m.HasSpeechTick() {
		t.Error("tone not reported as speech")
	}
	total, speech := m.Stats()
	if total != 10 || speech != 5 {
		t.Errorf("Stats = %d/%d, want 10/5", total, speech)
	}

	m.Reset()
	if total, _ := m.Stats(); total != 0 || m.Level() != 0 {
		t.Error("Reset left state behind")
	}
}
