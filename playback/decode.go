package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"

	"cobalt/wav"
)

var ErrUnsupported = errors.New("playback: unsupported audio file")

// decodeFile loads a FLAC artifact or a raw WAV container into interleaved
// 16-bit PCM.
func decodeFile(path string) ([]byte, wav.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wav.Format{}, err
	}
	magic := make([]byte, 4)
	_, err = io.ReadFull(f, magic)
	f.Close()
	if err != nil {
		return nil, wav.Format{}, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}

	switch {
	case bytes.Equal(magic, []byte("fLaC")):
		return decodeFLAC(path)
	case bytes.Equal(magic, []byte("RIFF")):
		return decodeWAV(path)
	}
	return nil, wav.Format{}, fmt.Errorf("%w: %s", ErrUnsupported, path)
}

func decodeWAV(path string) ([]byte, wav.Format, error) {
	p, err := wav.OpenPayload(path)
	if err != nil {
		return nil, wav.Format{}, err
	}
	defer p.Close()
	if p.Header.BitsPerSample != 16 {
		return nil, wav.Format{}, fmt.Errorf("%w: %d-bit wav", ErrUnsupported, p.Header.BitsPerSample)
	}
	pcm, err := io.ReadAll(p)
	if err != nil {
		return nil, wav.Format{}, err
	}
	return pcm, p.Header.Format, nil
}

func decodeFLAC(path string) ([]byte, wav.Format, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, wav.Format{}, fmt.Errorf("open flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info.BitsPerSample != 16 {
		return nil, wav.Format{}, fmt.Errorf("%w: %d-bit flac", ErrUnsupported, info.BitsPerSample)
	}
	format := wav.Format{
		SampleRate:    info.SampleRate,
		Channels:      uint16(info.NChannels),
		BitsPerSample: 16,
	}

	var pcm []byte
	if info.NSamples > 0 {
		pcm = make([]byte, 0, int(info.NSamples)*int(format.BlockAlign()))
	}
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wav.Format{}, fmt.Errorf("decode flac: %w", err)
		}
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for _, sub := range frame.Subframes {
				pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(sub.Samples[i])))
			}
		}
	}
	return pcm, format, nil
}
