package wav

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Writer appends PCM to a container whose header is written up front with
// zero sizes. Close seals it.
type Writer struct {
	mu      sync.Mutex
	path    string
	format  Format
	file    *os.File
	buf     *bufio.Writer
	written int64
	closed  bool
}

func Create(path string, format Format) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	if format.SampleRate == 0 || format.Channels == 0 || format.BitsPerSample == 0 || format.BitsPerSample%8 != 0 {
		return nil, fmt.Errorf("%w: format %s", ErrInvalidArgument, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	h := Header{Format: format, Encoding: pcmEncoding}
	if _, err := f.Write(h.marshal()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	return &Writer{
		path:   path,
		format: format,
		file:   f,
		buf:    bufio.NewWriterSize(f, 32*1024),
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("%w: write to closed container", ErrInvalidArgument)
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Format() Format { return w.format }

// Written returns the payload bytes accepted so far, excluding the header.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes and seals. Calling it twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return Seal(w.path)
}
