// Package wav reads and writes the minimal RIFF/WAVE container used for raw
// recordings: a fixed 44-byte header followed by little-endian linear PCM.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

const (
	HeaderSize = 44

	pcmEncoding  = 1
	fmtChunkSize = 16

	riffSizeOffset = 4
	dataSizeOffset = 40
)

var (
	ErrFormat          = errors.New("wav: malformed container")
	ErrInvalidArgument = errors.New("wav: invalid argument")
	ErrNotFound        = errors.New("wav: container not found")
)

type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

// VoiceFormat is the only profile the recognizers accept.
var VoiceFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func (f Format) BlockAlign() uint16 { return f.Channels * f.BitsPerSample / 8 }

func (f Format) ByteRate() uint32 { return f.SampleRate * uint32(f.BlockAlign()) }

// Duration converts a payload length in bytes to playback time.
func (f Format) Duration(payloadBytes int64) time.Duration {
	rate := int64(f.ByteRate())
	if rate == 0 {
		return 0
	}
	return time.Duration(payloadBytes * int64(time.Second) / rate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

type Header struct {
	Format
	Encoding uint16
	RIFFSize uint32
	DataSize uint32

	// as stored; Validate checks them against Format
	fmtSize    uint32
	byteRate   uint32
	blockAlign uint16
}

// Sealed reports whether the size fields have been patched. A container
// still being written carries a zero RIFF size; a sealed empty one carries 36
// with a zero data size.
func (h Header) Sealed() bool { return h.RIFFSize != 0 }

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], h.RIFFSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], h.Encoding)
	binary.LittleEndian.PutUint16(buf[22:24], h.Channels)
	binary.LittleEndian.PutUint32(buf[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], h.ByteRate())
	binary.LittleEndian.PutUint16(buf[32:34], h.BlockAlign())
	binary.LittleEndian.PutUint16(buf[34:36], h.BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], h.DataSize)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes", ErrFormat, len(buf))
	}
	if !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return Header{}, fmt.Errorf("%w: missing RIFF/WAVE tags", ErrFormat)
	}
	if !bytes.Equal(buf[12:16], []byte("fmt ")) || !bytes.Equal(buf[36:40], []byte("data")) {
		return Header{}, fmt.Errorf("%w: missing fmt/data chunks", ErrFormat)
	}
	return Header{
		Format: Format{
			SampleRate:    binary.LittleEndian.Uint32(buf[24:28]),
			Channels:      binary.LittleEndian.Uint16(buf[22:24]),
			BitsPerSample: binary.LittleEndian.Uint16(buf[34:36]),
		},
		Encoding:   binary.LittleEndian.Uint16(buf[20:22]),
		RIFFSize:   binary.LittleEndian.Uint32(buf[4:8]),
		DataSize:   binary.LittleEndian.Uint32(buf[40:44]),
		fmtSize:    binary.LittleEndian.Uint32(buf[16:20]),
		byteRate:   binary.LittleEndian.Uint32(buf[28:32]),
		blockAlign: binary.LittleEndian.Uint16(buf[32:34]),
	}, nil
}

func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Header{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Header{}, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return parseHeader(buf)
}

// Validate reports whether path holds a PCM container with exactly the given
// format. It never returns an error; any read failure is a mismatch.
func Validate(path string, want Format) bool {
	h, err := ReadHeader(path)
	if err != nil {
		return false
	}
	return h.Encoding == pcmEncoding &&
		h.Format == want &&
		h.fmtSize == fmtChunkSize &&
		h.byteRate == want.ByteRate() &&
		h.blockAlign == want.BlockAlign()
}

// Seal rewrites the RIFF and data size fields from the actual file length.
// Only those two fields are touched.
func Seal(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("seal %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("seal %s: %w", path, err)
	}
	size := info.Size()
	if size < HeaderSize {
		return fmt.Errorf("%w: %s is %d bytes, smaller than header", ErrFormat, path, size)
	}
	if size-8 > math.MaxUint32 {
		return fmt.Errorf("%w: %s is %d bytes, too large for RIFF size fields", ErrFormat, path, size)
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(size-8))
	if _, err := f.WriteAt(field[:], riffSizeOffset); err != nil {
		return fmt.Errorf("seal %s: %w", path, err)
	}
	binary.LittleEndian.PutUint32(field[:], uint32(size-HeaderSize))
	if _, err := f.WriteAt(field[:], dataSizeOffset); err != nil {
		return fmt.Errorf("seal %s: %w", path, err)
	}
	return f.Sync()
}
