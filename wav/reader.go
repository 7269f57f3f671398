package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Payload streams the PCM bytes of a container, skipping the header.
type Payload struct {
	Header Header
	Size   int64

	f *os.File
	r io.Reader
}

// OpenPayload opens a sealed container and positions the reader at the first
// PCM byte. Open containers are refused with ErrFormat.
func OpenPayload(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	if !h.Sealed() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is still open", ErrFormat, path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := min(info.Size()-HeaderSize, int64(h.DataSize))
	return &Payload{Header: h, Size: size, f: f, r: io.LimitReader(f, size)}, nil
}

func (p *Payload) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *Payload) Close() error { return p.f.Close() }

// Samples decodes little-endian 16-bit PCM into dst and returns the number of
// samples filled. A trailing odd byte is dropped.
func Samples(dst []int16, pcm []byte) int {
	n := len(pcm) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return n
}

// PutSamples encodes samples as little-endian 16-bit PCM.
func PutSamples(dst []byte, samples []int16) int {
	n := len(samples)
	if n*2 > len(dst) {
		n = len(dst) / 2
	}
	for i := 0; i < n; i++ {
		dst[2*i] = byte(samples[i])
		dst[2*i+1] = byte(uint16(samples[i]) >> 8)
	}
	return n * 2
}
