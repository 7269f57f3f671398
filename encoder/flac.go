package encoder

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

var ErrClosed = errors.New("flac encoder closed")

const bitsPerSample = 16

// FlacEncoder streams FLAC frames to w. When w is an io.WriteSeeker Close
// back-patches the sample count and checksum into STREAMINFO. Close also
// closes w if it is an io.Closer.
type FlacEncoder struct {
	format Format

	mu          sync.Mutex
	enc         *flac.Encoder
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
}

func NewFlac(w io.Writer, format Format) (*FlacEncoder, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  BlockSize,
		SampleRate:    format.SampleRate,
		NChannels:     uint8(format.Channels),
		BitsPerSample: bitsPerSample,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &FlacEncoder{format: format, enc: enc}, nil
}

func (e *FlacEncoder) Format() Format { return e.format }

// deinterleave splits block into one int32 slice per channel.
func deinterleave(block []int16, channels int) [][]int32 {
	n := len(block) / channels
	out := make([][]int32, channels)
	for ch := range out {
		out[ch] = make([]int32, n)
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = int32(block[i*channels+ch])
		}
	}
	return out
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	channels := e.format.Channels
	if len(block)%channels != 0 {
		return fmt.Errorf("flac block of %d samples is not a whole number of %d-channel frames", len(block), channels)
	}
	frames := len(block) / channels
	if frames > BlockSize {
		return fmt.Errorf("flac block of %d frames exceeds %d", frames, BlockSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	layout := frame.ChannelsMono
	if channels == 2 {
		layout = frame.ChannelsLR
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(frames),
			SampleRate:    e.format.SampleRate,
			Channels:      layout,
			BitsPerSample: bitsPerSample,
		},
	}
	for _, samples := range deinterleave(block, channels) {
		f.Subframes = append(f.Subframes, &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  frames,
		})
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(frames)
	return nil
}

func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.enc.Close()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

// Duration is the audio time encoded so far.
func (e *FlacEncoder) Duration() time.Duration {
	return e.format.Duration(e.TotalFrames())
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
