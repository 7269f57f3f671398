// Package transcode compresses a sealed raw recording into the FLAC artifact
// that notes keep.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cobalt/encoder"
	"cobalt/log"
	"cobalt/wav"
)

var ErrTranscode = errors.New("transcode failed")

const (
	artifactPrefix = "converted_"
	artifactExt    = ".flac"
	partSuffix     = ".part"
)

// Artifact is a finished compressed recording.
type Artifact struct {
	Path       string
	Samples    uint64
	Duration   time.Duration
	Size       int64
	EncodeTime time.Duration
}

// Stage writes artifacts into OutDir. The zero BlockSize means
// encoder.BlockSize; a nil Now means time.Now.
type Stage struct {
	OutDir    string
	BlockSize int
	Now       func() time.Time
}

func (s *Stage) blockSize() int {
	if s.BlockSize <= 0 || s.BlockSize > encoder.BlockSize {
		return encoder.BlockSize
	}
	return s.BlockSize
}

func (s *Stage) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Transcode encodes the payload of rawPath. The raw container is only read.
// On any failure nothing is left at the output path and the returned error
// wraps ErrTranscode.
func (s *Stage) Transcode(ctx context.Context, rawPath string) (*Artifact, error) {
	start := time.Now()
	if !wav.Validate(rawPath, wav.VoiceFormat) {
		return nil, fmt.Errorf("%w: %s: %w", ErrTranscode, rawPath, wav.ErrFormat)
	}
	payload, err := wav.OpenPayload(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	defer payload.Close()

	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	finalPath := s.artifactPath()
	partPath := filepath.Join(s.OutDir, "."+filepath.Base(finalPath)+partSuffix)

	out, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	enc, err := encoder.NewFlac(out, encoder.Voice)
	if err != nil {
		out.Close()
		os.Remove(partPath)
		return nil, fmt.Errorf("%w: %w", ErrTranscode, err)
	}

	fail := func(err error) (*Artifact, error) {
		enc.Close()
		out.Close()
		os.Remove(partPath)
		log.Warnf("transcode %s: %v", filepath.Base(rawPath), err)
		return nil, fmt.Errorf("%w: %w", ErrTranscode, err)
	}

	if err := pump(ctx, payload, enc, s.blockSize()); err != nil {
		return fail(err)
	}
	if err := enc.Close(); err != nil {
		return fail(fmt.Errorf("finalize flac: %w", err))
	}
	// Close on the encoder closes out as well; a second close is harmless.
	out.Close()

	info, err := os.Stat(partPath)
	if err != nil {
		return fail(err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return fail(err)
	}

	samples := enc.TotalFrames()
	a := &Artifact{
		Path:       finalPath,
		Samples:    samples,
		Duration:   enc.Duration(),
		Size:       info.Size(),
		EncodeTime: enc.EncodeTime(),
	}

	rawKB := float64(payload.Size) / 1024
	pct := 0.0
	if payload.Size > 0 {
		pct = (1 - float64(a.Size)/float64(payload.Size)) * 100
	}
	log.Transcode(log.TranscodeMetrics{
		AudioS:         a.Duration.Seconds(),
		RawKB:          rawKB,
		CompressedKB:   float64(a.Size) / 1024,
		CompressionPct: pct,
		EncodeMs:       float64(a.EncodeTime.Microseconds()) / 1000,
		TotalMs:        float64(time.Since(start).Microseconds()) / 1000,
	})
	return a, nil
}

func (s *Stage) artifactPath() string {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	path := filepath.Join(s.OutDir, artifactPrefix+ts+artifactExt)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(s.OutDir, fmt.Sprintf("%s%s_%d%s", artifactPrefix, ts, i, artifactExt))
	}
}

// pump reads fixed-size chunks on the calling goroutine and hands them to an
// encoder goroutine through a bounded queue. It returns once the encoder has
// drained the queue.
func pump(ctx context.Context, r io.Reader, enc encoder.Encoder, blockSize int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	blocks := make(chan []int16, 16)
	encodeDone := make(chan error, 1)

	go func() {
		var encErr error
		for block := range blocks {
			if encErr != nil {
				continue
			}
			start := time.Now()
			if err := enc.EncodeBlock(block); err != nil {
				encErr = err
				cancel()
				continue
			}
			enc.AddEncodeTime(time.Since(start))
		}
		encodeDone <- encErr
	}()

	readErr := readBlocks(ctx, r, blockSize, blocks)
	close(blocks)
	encErr := <-encodeDone

	if encErr != nil {
		return encErr
	}
	return readErr
}

func readBlocks(ctx context.Context, r io.Reader, blockSize int, blocks chan<- []int16) error {
	buf := make([]byte, blockSize*2)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			block := make([]int16, n/2)
			wav.Samples(block, buf[:n])
			if len(block) > 0 {
				select {
				case blocks <- block:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	}
}
