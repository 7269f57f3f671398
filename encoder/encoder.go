// Package encoder compresses recorded PCM into FLAC.
package encoder

import (
	"fmt"
	"time"
)

// BlockSize is the largest number of frames one EncodeBlock call may carry.
const BlockSize = 4096

// Format describes the signed 16-bit PCM handed to an encoder.
type Format struct {
	SampleRate uint32
	Channels   int
}

// Voice is the capture profile: 16 kHz mono.
var Voice = Format{SampleRate: 16000, Channels: 1}

func (f Format) validate() error {
	if f.SampleRate == 0 || f.SampleRate > 655350 {
		return fmt.Errorf("unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	return nil
}

// Duration converts a frame count into playback time.
func (f Format) Duration(frames uint64) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

type Encoder interface {
	// EncodeBlock takes interleaved samples, at most BlockSize frames.
	EncodeBlock(block []int16) error
	Close() error
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}
