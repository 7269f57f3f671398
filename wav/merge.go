package wav

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Merge concatenates segment containers into dst. The first segment is copied
// whole, header included; later segments contribute only their payload. The
// result is sealed. All segments must share one format.
func Merge(dst string, segments []string) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: no segments to merge", ErrInvalidArgument)
	}

	first, err := ReadHeader(segments[0])
	if err != nil {
		return err
	}
	for _, p := range segments[1:] {
		h, err := ReadHeader(p)
		if err != nil {
			return err
		}
		if h.Format != first.Format {
			return fmt.Errorf("%w: %s is %s, want %s", ErrFormat, p, h.Format, first.Format)
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	bw := bufio.NewWriterSize(out, 64*1024)

	fail := func(err error) error {
		out.Close()
		os.Remove(dst)
		return err
	}

	for i, p := range segments {
		skip := int64(HeaderSize)
		if i == 0 {
			skip = 0
		}
		if err := appendFile(bw, p, skip); err != nil {
			return fail(err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("flush %s: %w", dst, err))
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return Seal(dst)
}

func appendFile(w io.Writer, path string, skip int64) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	defer f.Close()

	if skip > 0 {
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", path, err)
		}
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
