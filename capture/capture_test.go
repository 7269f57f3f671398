package capture

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"cobalt/audio"
	"cobalt/wav"
)

// seqHardware hands out one fake device per NewCapture call, each replaying
// the next PCM buffer.
type seqHardware struct {
	mu    sync.Mutex
	pcm   [][]byte
	calls int
	err   error
}

func (h *seqHardware) NewCapture(d *audio.DeviceInfo, c audio.CaptureConfig) (audio.CaptureDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	var pcm []byte
	if h.calls < len(h.pcm) {
		pcm = h.pcm[h.calls]
	}
	h.calls++
	return audio.NewFakeContext(pcm, false).NewCapture(d, c)
}

func ramp(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var out []string
	for _, de := range des {
		out = append(out, de.Name())
	}
	return out
}

func payload(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data[wav.HeaderSize:]
}

func TestNativeStartStop(t *testing.T) {
	dir := t.TempDir()
	pcm := ramp(10000, 0)
	s := New(audio.NewFakeContext(pcm, false), nil, Config{Dir: dir})

	path, err := s.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Recording {
		t.Fatalf("State = %v, want Recording", s.State())
	}
	rec, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec == nil {
		t.Fatal("Stop returned nil recording")
	}
	if rec.Path != path {
		t.Errorf("Path = %q, want live path %q", rec.Path, path)
	}
	if rec.PayloadBytes != int64(len(pcm)) {
		t.Errorf("PayloadBytes = %d, want %d", rec.PayloadBytes, len(pcm))
	}
	if !wav.Validate(rec.Path, wav.VoiceFormat) {
		t.Error("recording does not validate")
	}
	if !bytes.Equal(payload(t, rec.Path), pcm) {
		t.Error("payload differs from captured audio")
	}
	h, _ := wav.ReadHeader(rec.Path)
	if h.DataSize != uint32(len(pcm)) {
		t.Errorf("DataSize = %d, want %d", h.DataSize, len(pcm))
	}
	if s.State() != Stopped {
		t.Errorf("State = %v, want Stopped", s.State())
	}
}

func TestNativePauseResume(t *testing.T) {
	dir := t.TempDir()
	pcm := ramp(4000, 7)
	s := New(audio.NewFakeContext(pcm, false), nil, Config{Dir: dir})

	if _, err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.State() != Paused {
		t.Fatalf("State = %v, want Paused", s.State())
	}
	pausedAt := s.Elapsed()
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}

	want := append(append([]byte(nil), pcm...), pcm...)
	if !bytes.Equal(payload(t, rec.Path), want) {
		t.Errorf("payload length %d, want %d", rec.PayloadBytes, len(want))
	}
	if rec.Segments != 1 {
		t.Errorf("Segments = %d, want 1", rec.Segments)
	}
	if names := dirEntries(t, dir); len(names) != 1 {
		t.Errorf("cache dir = %v, want one container", names)
	}
	if rec.Elapsed < pausedAt {
		t.Errorf("Elapsed %v went backwards from %v", rec.Elapsed, pausedAt)
	}
}

func TestSegmentedPauseMerges(t *testing.T) {
	dir := t.TempDir()
	a := ramp(1000-wav.HeaderSize, 1)
	b := ramp(2000-wav.HeaderSize, 100)
	hw := &seqHardware{pcm: [][]byte{a, b}}
	s := New(hw, nil, Config{Dir: dir, Segmented: true})

	if _, err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if segs := s.Segments(); len(segs) != 1 {
		t.Fatalf("Segments after pause = %v", segs)
	}
	if !wav.Validate(s.Segments()[0], wav.VoiceFormat) {
		t.Error("paused segment is not sealed")
	}
	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if want := int64((1000 - 44) + (2000 - 44)); rec.PayloadBytes != want {
		t.Errorf("PayloadBytes = %d, want %d", rec.PayloadBytes, want)
	}
	if !bytes.Equal(payload(t, rec.Path), append(append([]byte(nil), a...), b...)) {
		t.Error("merged payload is not segment a followed by segment b")
	}
	h, err := wav.ReadHeader(rec.Path)
	if err != nil {
		t.Fatal(err)
	}
	if h.DataSize != uint32(rec.PayloadBytes) || h.RIFFSize != uint32(rec.PayloadBytes)+36 {
		t.Errorf("header sizes riff=%d data=%d", h.RIFFSize, h.DataSize)
	}
	if rec.Segments != 2 {
		t.Errorf("Segments = %d, want 2", rec.Segments)
	}
	if names := dirEntries(t, dir); len(names) != 1 {
		t.Errorf("cache dir = %v, want only the merged container", names)
	}
	if hw.calls != 2 {
		t.Errorf("hardware opened %d times, want 2", hw.calls)
	}
}

func TestStopNothingCaptured(t *testing.T) {
	for _, segmented := range []bool{false, true} {
		dir := t.TempDir()
		s := New(audio.NewFakeContext(nil, false), nil, Config{Dir: dir, Segmented: segmented})
		if _, err := s.Start(); err != nil {
			t.Fatal(err)
		}
		rec, err := s.Stop()
		if err != nil {
			t.Fatalf("segmented=%v: Stop: %v", segmented, err)
		}
		if rec != nil {
			t.Errorf("segmented=%v: got recording %+v, want nil", segmented, rec)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("segmented=%v: cache dir not empty: %v", segmented, names)
		}
	}
}

func TestStartPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	s := New(audio.NewFakeContext(ramp(100, 0), false), nil, Config{
		Dir:        dir,
		Permission: audio.PermissionFunc(func() bool { return false }),
	})
	if _, err := s.Start(); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want Idle", s.State())
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("files created: %v", names)
	}
}

func TestStartHardwareUnavailable(t *testing.T) {
	tests := []struct {
		name string
		hw   Hardware
	}{
		{"open fails", &seqHardware{err: errors.New("no such device")}},
		{"start fails", func() Hardware {
			c := audio.NewFakeContext(nil, false)
			c.StartErr = errors.New("busy")
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var lease audio.Lease
			s := New(tt.hw, nil, Config{Dir: dir, Lease: &lease})
			if _, err := s.Start(); !errors.Is(err, audio.ErrHardwareUnavailable) {
				t.Fatalf("err = %v, want ErrHardwareUnavailable", err)
			}
			if names := dirEntries(t, dir); len(names) != 0 {
				t.Errorf("files left: %v", names)
			}
			if lease.Owner() != "" {
				t.Error("lease still held after failed start")
			}
		})
	}
}

func TestCancelTwiceLeavesNothing(t *testing.T) {
	for _, segmented := range []bool{false, true} {
		dir := t.TempDir()
		s := New(&seqHardware{pcm: [][]byte{ramp(500, 0), ramp(500, 1)}}, nil, Config{Dir: dir, Segmented: segmented})
		s.Start()
		s.Pause()
		s.Resume()

		s.Cancel()
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("segmented=%v: files after first cancel: %v", segmented, names)
		}
		s.Cancel()
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("segmented=%v: files after second cancel: %v", segmented, names)
		}
		if s.State() != Discarded {
			t.Errorf("State = %v, want Discarded", s.State())
		}
	}
}

func TestCancelAfterStopDeletesRecording(t *testing.T) {
	dir := t.TempDir()
	s := New(audio.NewFakeContext(ramp(500, 0), false), nil, Config{Dir: dir})
	s.Start()
	rec, err := s.Stop()
	if err != nil || rec == nil {
		t.Fatalf("Stop: %v %v", rec, err)
	}
	s.Cancel()
	if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
		t.Errorf("recording survived cancel: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := New(audio.NewFakeContext(nil, false), nil, Config{Dir: t.TempDir()})
	if err := s.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause from Idle: %v", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume from Idle: %v", err)
	}
	if _, err := s.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop from Idle: %v", err)
	}
	s.Start()
	if _, err := s.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start: %v", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while recording: %v", err)
	}
	s.Cancel()
}

func TestLeaseIsExclusive(t *testing.T) {
	var lease audio.Lease
	hw := audio.NewFakeContext(ramp(100, 0), false)
	first := New(hw, nil, Config{Dir: t.TempDir(), Lease: &lease})
	second := New(hw, nil, Config{Dir: t.TempDir(), Lease: &lease})

	if _, err := first.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Start(); !errors.Is(err, audio.ErrHardwareUnavailable) {
		t.Fatalf("second Start err = %v, want ErrHardwareUnavailable", err)
	}
	first.Stop()
	if _, err := second.Start(); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
	second.Cancel()
	if lease.Owner() != "" {
		t.Error("lease held after cancel")
	}
}

func TestSegmentedPauseReleasesHardware(t *testing.T) {
	var lease audio.Lease
	s := New(&seqHardware{pcm: [][]byte{ramp(100, 0)}}, nil, Config{Dir: t.TempDir(), Segmented: true, Lease: &lease})
	s.Start()
	s.Pause()
	if lease.Owner() != "" {
		t.Errorf("lease owner %q while segmented session is paused", lease.Owner())
	}
	if err := lease.Acquire("other"); err != nil {
		t.Fatal(err)
	}
	if err := s.Resume(); !errors.Is(err, audio.ErrHardwareUnavailable) {
		t.Errorf("Resume with hardware taken: %v", err)
	}
	if s.State() != Paused {
		t.Errorf("State = %v, want Paused", s.State())
	}
	lease.Release("other")
	s.Cancel()
}

func TestOnChunkSeesAllAudio(t *testing.T) {
	var seen atomic.Int64
	pcm := ramp(9000, 0)
	s := New(audio.NewFakeContext(pcm, false), nil, Config{
		Dir:     t.TempDir(),
		OnChunk: func(b []byte) { seen.Add(int64(len(b))) },
	})
	s.Start()
	rec, _ := s.Stop()
	if seen.Load() != rec.PayloadBytes {
		t.Errorf("OnChunk saw %d bytes, recording has %d", seen.Load(), rec.PayloadBytes)
	}
}

func TestSegmentedSealFailureStillPauses(t *testing.T) {
	dir := t.TempDir()
	next := ramp(600, 7)
	hw := &seqHardware{pcm: [][]byte{ramp(500, 1), next}}
	s := New(hw, nil, Config{Dir: dir, Segmented: true})

	live, err := s.Start()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(live); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err == nil {
		t.Fatal("Pause sealed a removed segment")
	}
	if s.State() != Paused {
		t.Fatalf("State = %v, want Paused", s.State())
	}
	if segs := s.Segments(); len(segs) != 0 {
		t.Errorf("Segments = %v, want none", segs)
	}
	if err := s.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Pause = %v, want ErrInvalidState", err)
	}

	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec == nil || rec.Segments != 1 || !bytes.Equal(payload(t, rec.Path), next) {
		t.Fatalf("take = %+v, want only the resumed segment", rec)
	}
}

func TestSegmentedStopAfterDroppedSegment(t *testing.T) {
	dir := t.TempDir()
	s := New(&seqHardware{pcm: [][]byte{ramp(500, 1)}}, nil, Config{Dir: dir, Segmented: true})
	live, err := s.Start()
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(live)
	s.Pause()

	rec, err := s.Stop()
	if err != nil || rec != nil {
		t.Fatalf("Stop = %+v, %v; want nothing captured", rec, err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("cache dir = %v, want empty", names)
	}
}
