// Package capture records microphone audio into raw WAV containers.
//
// A Session owns one recording from Start to Stop or Cancel. Pausing is done
// one of two ways, chosen once when the session is built: natively, where the
// input stream is suspended and a single container stays open, or by
// segments, where every pause seals the current container and resume opens a
// new one. Stop merges segments back into one container.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cobalt/audio"
	"cobalt/log"
	"cobalt/wav"
)

const (
	DefaultChunkSize   = 3200 // 100 ms of voice-profile audio
	DefaultJoinTimeout = 2 * time.Second
	DefaultMinPayload  = 2 // one sample
)

var ErrInvalidState = errors.New("capture: invalid state transition")

type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopped
	Discarded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	case Discarded:
		return "Discarded"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Hardware opens capture devices. audio.Context satisfies it.
type Hardware interface {
	NewCapture(device *audio.DeviceInfo, config audio.CaptureConfig) (audio.CaptureDevice, error)
}

type Config struct {
	Dir         string
	Format      wav.Format
	ChunkSize   int
	JoinTimeout time.Duration
	// Containers whose payload is shorter than MinPayload count as empty.
	MinPayload int64
	Segmented  bool
	Permission audio.Permission
	// Lease, when set, is held from Start until Stop or Cancel.
	Lease *audio.Lease
	// OnChunk sees every chunk written to disk, on the capture goroutine.
	OnChunk func(pcm []byte)
}

func (c *Config) defaults() {
	if c.Format == (wav.Format{}) {
		c.Format = wav.VoiceFormat
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.MinPayload <= 0 {
		c.MinPayload = DefaultMinPayload
	}
	if c.Permission == nil {
		c.Permission = audio.Granted
	}
}

// Take is the sealed result of a stopped session.
type Take struct {
	Path         string
	Format       wav.Format
	PayloadBytes int64
	Duration     time.Duration
	Elapsed      time.Duration
	Segments     int
}

type Session struct {
	id       string
	hw       Hardware
	device   *audio.DeviceInfo
	cfg      Config
	strategy pauseStrategy
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	live     *segment
	segments []string
	created  []string

	elapsed     time.Duration
	activeSince time.Time
}

// New builds an idle session. device may be nil for the system default.
func New(hw Hardware, device *audio.DeviceInfo, cfg Config) *Session {
	cfg.defaults()
	s := &Session{
		id:     uuid.NewString(),
		hw:     hw,
		device: device,
		cfg:    cfg,
	}
	if cfg.Segmented {
		s.strategy = segmentedPause{}
	} else {
		s.strategy = nativePause{}
	}
	s.logger = log.Component("capture").With().Str("session", s.id[:8]).Logger()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the time spent recording, excluding pauses.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	if s.state == Recording {
		return s.elapsed + time.Since(s.activeSince)
	}
	return s.elapsed
}

// Segments returns the sealed segment containers collected so far.
func (s *Session) Segments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.segments...)
}

// Start checks permission, opens the hardware and begins writing. It returns
// the path of the live container.
func (s *Session) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return "", fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	if !s.cfg.Permission.Granted() {
		return "", audio.ErrPermissionDenied
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("capture dir: %w", err)
	}
	if s.cfg.Lease != nil {
		if err := s.cfg.Lease.Acquire(s.id); err != nil {
			return "", err
		}
	}
	if err := s.openSegment(); err != nil {
		s.releaseLease()
		return "", err
	}
	s.state = Recording
	s.activeSince = time.Now()
	s.logger.Info().Str("path", s.live.path).Bool("segmented", s.cfg.Segmented).Msg("capture started")
	return s.live.path, nil
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, s.state)
	}
	err := s.strategy.pause(s)
	if err != nil && (s.live != nil || errors.Is(err, errNoLiveSegment)) {
		return err
	}
	// With the input closed the session is paused even when sealing failed.
	s.elapsed += time.Since(s.activeSince)
	s.state = Paused
	s.logger.Debug().Dur("elapsed", s.elapsed).Msg("capture paused")
	return err
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, s.state)
	}
	if err := s.strategy.resume(s); err != nil {
		return err
	}
	s.state = Recording
	s.activeSince = time.Now()
	s.logger.Debug().Msg("capture resumed")
	return nil
}

// Stop ends capture and seals the result. It returns nil, nil when nothing
// usable was captured; the empty container is deleted in that case.
func (s *Session) Stop() (*Take, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording && s.state != Paused {
		return nil, fmt.Errorf("%w: stop from %s", ErrInvalidState, s.state)
	}
	if s.state == Recording {
		s.elapsed += time.Since(s.activeSince)
	}
	s.state = Stopped
	defer s.releaseLease()

	// On error the files stay on disk until Cancel.
	path, err := s.strategy.finish(s)
	if err != nil {
		return nil, err
	}
	if path == "" {
		s.logger.Info().Msg("nothing captured")
		s.removeCreated()
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	payload := info.Size() - wav.HeaderSize
	if payload < s.cfg.MinPayload {
		s.logger.Info().Int64("payload", payload).Msg("nothing captured")
		s.removeCreated()
		return nil, nil
	}

	rec := &Take{
		Path:         path,
		Format:       s.cfg.Format,
		PayloadBytes: payload,
		Duration:     s.cfg.Format.Duration(payload),
		Elapsed:      s.elapsed,
		Segments:     max(len(s.segments), 1),
	}
	s.logger.Info().
		Str("path", filepath.Base(path)).
		Int64("payload", payload).
		Dur("duration", rec.Duration).
		Int("segments", rec.Segments).
		Msg("capture stopped")
	return rec, nil
}

// Cancel stops any running capture and deletes every file the session
// produced, including a stopped recording. It is safe to call repeatedly.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Discarded {
		s.removeCreated()
		return
	}
	if s.live != nil {
		s.live.close(s.cfg.JoinTimeout, s.logger)
		s.live = nil
	}
	if s.state == Recording {
		s.elapsed += time.Since(s.activeSince)
	}
	s.releaseLease()
	s.removeCreated()
	s.state = Discarded
	s.logger.Info().Msg("capture discarded")
}

func (s *Session) releaseLease() {
	if s.cfg.Lease != nil {
		s.cfg.Lease.Release(s.id)
	}
}

func (s *Session) track(path string) {
	s.created = append(s.created, path)
}

func (s *Session) removeCreated() {
	for _, p := range s.created {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", p).Msg("remove capture file")
		}
	}
	s.created = nil
	s.segments = nil
}

func (s *Session) newPath(prefix string) string {
	name := fmt.Sprintf("%s_%d_%s_%d.wav", prefix, time.Now().UnixMilli(), s.id[:8], len(s.created))
	return filepath.Join(s.cfg.Dir, name)
}

// openSegment opens the device and a fresh container and starts the loop.
func (s *Session) openSegment() error {
	dev, err := s.hw.NewCapture(s.device, audio.CaptureConfig{
		SampleRate: s.cfg.Format.SampleRate,
		Channels:   uint32(s.cfg.Format.Channels),
	})
	if err != nil {
		if errors.Is(err, audio.ErrHardwareUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", audio.ErrHardwareUnavailable, err)
	}

	path := s.newPath("audio")
	w, err := wav.Create(path, s.cfg.Format)
	if err != nil {
		dev.Close()
		return err
	}

	r := audio.NewStreamReader(dev, 0)
	if err := r.Start(); err != nil {
		r.Close()
		w.Close()
		os.Remove(path)
		return err
	}
	s.track(path)

	seg := &segment{path: path, writer: w, reader: r, done: make(chan struct{})}
	go seg.loop(s.cfg.ChunkSize, s.cfg.OnChunk, s.logger)
	s.live = seg
	return nil
}
