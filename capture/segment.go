package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"cobalt/audio"
	"cobalt/wav"
)

// segment is one open container fed by one capture loop.
type segment struct {
	path   string
	writer *wav.Writer
	reader *audio.StreamReader
	done   chan struct{}
}

// loop copies fixed-size chunks from the device into the container until the
// reader reports EOF. Errors end the loop; they are logged, never returned.
func (g *segment) loop(chunkSize int, onChunk func([]byte), logger zerolog.Logger) {
	defer close(g.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("capture loop crashed")
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(g.reader, buf)
		if n > 0 {
			if _, werr := g.writer.Write(buf[:n]); werr != nil {
				logger.Error().Err(werr).Msg("capture write failed")
				return
			}
			if onChunk != nil {
				onChunk(buf[:n])
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Error().Err(err).Msg("capture read failed")
			}
			return
		}
	}
}

// close releases the device, joins the loop for at most timeout, and seals
// the container.
func (g *segment) close(timeout time.Duration, logger zerolog.Logger) error {
	g.reader.Close()
	select {
	case <-g.done:
	case <-time.After(timeout):
		logger.Warn().Dur("timeout", timeout).Msg("capture loop did not exit, sealing anyway")
	}
	if n := g.reader.Overruns(); n > 0 {
		logger.Warn().Int("overruns", n).Msg("capture buffer overran")
	}
	return g.writer.Close()
}

// errNoLiveSegment reports a strategy call on a session whose input is
// already closed.
var errNoLiveSegment = errors.New("capture: no live segment")

type pauseStrategy interface {
	pause(s *Session) error
	resume(s *Session) error
	// finish ends capture and returns the path of the sealed result, or ""
	// when no container survived.
	finish(s *Session) (string, error)
}

// nativePause keeps one container and suspends the input stream.
type nativePause struct{}

func (nativePause) pause(s *Session) error {
	if s.live == nil {
		return errNoLiveSegment
	}
	s.live.reader.Stop()
	return nil
}

func (nativePause) resume(s *Session) error {
	if s.live == nil {
		return errNoLiveSegment
	}
	return s.live.reader.Start()
}

func (nativePause) finish(s *Session) (string, error) {
	g := s.live
	if g == nil {
		return "", errNoLiveSegment
	}
	s.live = nil
	if err := g.close(s.cfg.JoinTimeout, s.logger); err != nil {
		return "", err
	}
	return g.path, nil
}

// segmentedPause seals a container on every pause and merges them on finish.
type segmentedPause struct{}

// pause seals the live segment. The input is closed either way, so a segment
// that fails to seal is dropped and the session still counts as paused.
func (segmentedPause) pause(s *Session) error {
	g := s.live
	if g == nil {
		return nil
	}
	s.live = nil
	err := g.close(s.cfg.JoinTimeout, s.logger)
	s.releaseLease()
	if err != nil {
		s.logger.Error().Err(err).Str("segment", g.path).Msg("segment dropped")
		os.Remove(g.path)
		return fmt.Errorf("seal segment: %w", err)
	}
	s.segments = append(s.segments, g.path)
	s.logger.Debug().Str("segment", g.path).Int("count", len(s.segments)).Msg("segment sealed")
	return nil
}

func (segmentedPause) resume(s *Session) error {
	if s.cfg.Lease != nil {
		if err := s.cfg.Lease.Acquire(s.id); err != nil {
			return err
		}
	}
	if err := s.openSegment(); err != nil {
		s.releaseLease()
		return err
	}
	return nil
}

func (p segmentedPause) finish(s *Session) (string, error) {
	if err := p.pause(s); err != nil && len(s.segments) == 0 {
		return "", err
	}
	switch len(s.segments) {
	case 0:
		return "", nil
	case 1:
		return s.segments[0], nil
	}

	merged := s.newPath("merged")
	s.track(merged)
	if err := wav.Merge(merged, s.segments); err != nil {
		return "", fmt.Errorf("merge %d segments: %w", len(s.segments), err)
	}
	for _, seg := range s.segments {
		if err := os.Remove(seg); err != nil {
			s.logger.Warn().Err(err).Str("path", seg).Msg("remove merged segment")
		}
	}
	return merged, nil
}
