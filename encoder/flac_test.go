package encoder

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mewkiz/flac"
)

func sine(n int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(Voice.SampleRate)))
	}
	return out
}

func encodeAll(t *testing.T, enc *FlacEncoder, samples []int16) uint64 {
	t.Helper()
	step := BlockSize * enc.Format().Channels
	for i := 0; i < len(samples); i += step {
		end := min(i+step, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
	}
	return uint64(len(samples) / enc.Format().Channels)
}

// decodeFile returns the decoded samples of every channel.
func decodeFile(t *testing.T, path string) (channels [][]int32, rate uint32) {
	t.Helper()
	stream, err := flac.Open(path)
	if err != nil {
		t.Fatalf("flac.Open: %v", err)
	}
	defer stream.Close()

	channels = make([][]int32, stream.Info.NChannels)
	for {
		fr, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ParseNext: %v", err)
		}
		for ch, sub := range fr.Subframes {
			channels[ch] = append(channels[ch], sub.Samples...)
		}
	}
	return channels, stream.Info.SampleRate
}

func createFile(t *testing.T) (*os.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	return f, path
}

func TestFlacEncoderCompresses(t *testing.T) {
	samples := sine(int(Voice.SampleRate)*2, 440)

	var buf bytes.Buffer
	enc, err := NewFlac(&buf, Voice)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	fed := encodeAll(t, enc, samples)
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if enc.TotalFrames() != fed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), fed)
	}
	if enc.Duration() != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", enc.Duration())
	}
	data := buf.Bytes()
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
	if len(data) >= len(samples)*2 {
		t.Errorf("flac %d bytes is not smaller than raw %d", len(data), len(samples)*2)
	}
}

func TestFlacEncoderMonoRoundTrip(t *testing.T) {
	samples := sine(BlockSize*3+123, 440)
	f, path := createFile(t)
	enc, err := NewFlac(f, Voice)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	encodeAll(t, enc, samples)
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	channels, rate := decodeFile(t, path)
	if rate != Voice.SampleRate || len(channels) != 1 {
		t.Fatalf("stream info = %d Hz / %d ch", rate, len(channels))
	}
	if len(channels[0]) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(channels[0]), len(samples))
	}
	for i := range samples {
		if channels[0][i] != int32(samples[i]) {
			t.Fatalf("sample %d = %d, want %d", i, channels[0][i], samples[i])
		}
	}
}

func TestFlacEncoderStereoRoundTrip(t *testing.T) {
	left, right := sine(BlockSize+77, 440), sine(BlockSize+77, 880)
	interleaved := make([]int16, 0, len(left)*2)
	for i := range left {
		interleaved = append(interleaved, left[i], right[i])
	}

	f, path := createFile(t)
	enc, err := NewFlac(f, Format{SampleRate: 16000, Channels: 2})
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if fed := encodeAll(t, enc, interleaved); fed != uint64(len(left)) {
		t.Fatalf("fed %d frames, want %d", fed, len(left))
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(left)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(left))
	}

	channels, _ := decodeFile(t, path)
	if len(channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(channels))
	}
	for i := range left {
		if channels[0][i] != int32(left[i]) || channels[1][i] != int32(right[i]) {
			t.Fatalf("frame %d = (%d, %d), want (%d, %d)", i, channels[0][i], channels[1][i], left[i], right[i])
		}
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFlac(&buf, Voice)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 || enc.Duration() != 0 {
		t.Errorf("TotalFrames = %d, Duration = %v", enc.TotalFrames(), enc.Duration())
	}
	if buf.Len() == 0 {
		t.Error("expected at least the stream header")
	}
}

func TestFlacEncoderRejects(t *testing.T) {
	for _, f := range []Format{{SampleRate: 0, Channels: 1}, {SampleRate: 16000, Channels: 3}} {
		if _, err := NewFlac(io.Discard, f); err == nil {
			t.Errorf("NewFlac(%+v): expected error", f)
		}
	}

	var buf bytes.Buffer
	enc, _ := NewFlac(&buf, Voice)
	if err := enc.EncodeBlock(make([]int16, BlockSize+1)); err == nil {
		t.Error("expected oversize block to fail")
	}
	enc.Close()
	if err := enc.EncodeBlock(make([]int16, 10)); !errors.Is(err, ErrClosed) {
		t.Errorf("EncodeBlock after Close = %v, want ErrClosed", err)
	}
	if err := enc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	stereo, _ := NewFlac(&bytes.Buffer{}, Format{SampleRate: 16000, Channels: 2})
	if err := stereo.EncodeBlock(make([]int16, 5)); err == nil {
		t.Error("expected odd stereo block to fail")
	}
	stereo.Close()
}

func TestDeinterleave(t *testing.T) {
	got := deinterleave([]int16{1, -1, 2, -2, 3, -3}, 2)
	if len(got) != 2 || len(got[0]) != 3 {
		t.Fatalf("shape = %d x %d", len(got), len(got[0]))
	}
	for i, want := range []int32{1, 2, 3} {
		if got[0][i] != want || got[1][i] != -want {
			t.Errorf("frame %d = (%d, %d)", i, got[0][i], got[1][i])
		}
	}
}
