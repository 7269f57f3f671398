package voice

import "testing"

func feedN(m *Monitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := NewMonitor(false)
	// 79 ticks of silence: no warning yet
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %v", i, ev)
		}
	}
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick 80, got %v", ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := NewMonitor(false)
	feedN(m, false, 80)

	for i := 0; i < 80; i++ {
		if m.Tick(true) == SilenceWarnClear {
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := NewMonitor(false)
	for i := 0; i < 200; i++ {
		if ev := m.Tick(true); ev == SilenceWarn {
			t.Fatalf("unexpected warn during speech at tick %d", i)
		}
	}
}

func TestAutoStopRepeats(t *testing.T) {
	m := NewMonitor(true)
	feedN(m, false, 80)
	var gotRepeat bool
	for i := 0; i < 100; i++ {
		if m.Tick(false) == SilenceRepeat {
			gotRepeat = true
			break
		}
	}
	if !gotRepeat {
		t.Fatal("expected SilenceRepeat with auto-stop enabled")
	}
}

func TestAutoStopPriorityOverRepeat(t *testing.T) {
	m := NewMonitor(true)
	for i := 0; i < 400; i++ {
		ev := m.Tick(false)
		if ev == SilenceAutoStop {
			if i < 299 {
				t.Fatalf("auto-stop at tick %d, before the 30s window filled", i)
			}
			return
		}
		if i >= 300 && ev == SilenceRepeat {
			t.Fatalf("SilenceRepeat fired at tick %d instead of SilenceAutoStop", i)
		}
	}
	t.Fatal("expected SilenceAutoStop within 400 ticks")
}

func TestNoAutoStopWhenDisabled(t *testing.T) {
	m := NewMonitor(false)
	for i := 0; i < 400; i++ {
		switch m.Tick(false) {
		case SilenceAutoStop, SilenceRepeat:
			t.Fatalf("unexpected auto-stop event at tick %d", i)
		}
	}
}

func TestAutoStopPreventedBySpeech(t *testing.T) {
	m := NewMonitor(true)
	for i := 0; i < 500; i++ {
		if ev := m.Tick(i%10 < 7); ev == SilenceAutoStop {
			t.Fatalf("unexpected auto-stop with speech at tick %d", i)
		}
	}
}

func TestWarnOnlyOnce(t *testing.T) {
	m := NewMonitor(false)
	warns := 0
	for i := 0; i < 300; i++ {
		if m.Tick(false) == SilenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 SilenceWarn, got %d", warns)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := NewMonitor(false)
	feedN(m, false, 80)

	// occasional false positives (< 25% speech) should not clear
	for i := 0; i < 80; i++ {
		if ev := m.Tick(i%10 == 0); ev == SilenceWarnClear {
			t.Fatalf("warning cleared at tick %d with 10%% speech", i)
		}
	}
}

func TestResetForgetsWarning(t *testing.T) {
	m := NewMonitor(false)
	feedN(m, false, 80)
	m.Reset()
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("event %v at tick %d after reset", ev, i)
		}
	}
}
