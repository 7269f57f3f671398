// Package playback plays saved recordings through the system audio output.
package playback

import (
	"errors"
	"sync"
	"time"

	"cobalt/log"
	"cobalt/wav"
)

// SkipStep is how far FastForward and FastBackward jump.
const SkipStep = 5 * time.Second

var ErrNotLoaded = errors.New("playback: nothing loaded")

// FillFunc copies the next PCM bytes into dst and returns how many it wrote.
// Zero means the end of the audio.
type FillFunc func(dst []byte) int

// Sink is an audio output that pulls PCM from a FillFunc on its own
// goroutine or device callback. Stop must be safe to call when not started.
type Sink interface {
	Start(format wav.Format, fill FillFunc) error
	Stop()
	Close()
}

// Controller holds one loaded recording and a play position. It is meant to
// be embedded in whatever owns the playback UI.
type Controller struct {
	sink Sink

	mu      sync.Mutex
	path    string
	pcm     []byte
	format  wav.Format
	pos     int
	playing bool
	// OnEnd, if set, runs on its own goroutine when playback reaches the end.
	OnEnd func()
}

func NewController(sink Sink) *Controller {
	return &Controller{sink: sink}
}

// Load decodes path and rewinds. Any current playback stops.
func (c *Controller) Load(path string) error {
	pcm, format, err := decodeFile(path)
	if err != nil {
		return err
	}
	c.sink.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	c.pcm = pcm
	c.format = format
	c.pos = 0
	c.playing = false
	log.Infof("playback loaded %s (%s, %v)", path, format, format.Duration(int64(len(pcm))))
	return nil
}

func (c *Controller) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Play starts or resumes playback. Playing from the end starts over.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.pcm == nil {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if c.playing {
		c.mu.Unlock()
		return nil
	}
	if c.pos >= len(c.pcm) {
		c.pos = 0
	}
	format := c.format
	c.playing = true
	c.mu.Unlock()

	c.sink.Stop()
	if err := c.sink.Start(format, c.fill); err != nil {
		c.mu.Lock()
		c.playing = false
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Controller) Pause() {
	c.sink.Stop()
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
}

func (c *Controller) Toggle() error {
	if c.Playing() {
		c.Pause()
		return nil
	}
	return c.Play()
}

// Stop halts playback and rewinds.
func (c *Controller) Stop() {
	c.sink.Stop()
	c.mu.Lock()
	c.playing = false
	c.pos = 0
	c.mu.Unlock()
}

// SeekTo moves to d, clamped to the recording.
func (c *Controller) SeekTo(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(d)
}

func (c *Controller) seekLocked(d time.Duration) {
	if c.pcm == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	align := int64(c.format.BlockAlign())
	off := int64(d) * int64(c.format.ByteRate()) / int64(time.Second)
	off -= off % align
	if off > int64(len(c.pcm)) {
		off = int64(len(c.pcm))
	}
	c.pos = int(off)
}

func (c *Controller) FastForward() {
	c.skip(SkipStep)
}

func (c *Controller) FastBackward() {
	c.skip(-SkipStep)
}

func (c *Controller) skip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(c.format.Duration(int64(c.pos)) + d)
}

func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.Duration(int64(c.pos))
}

func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.Duration(int64(len(c.pcm)))
}

func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Close stops playback, releases the sink and forgets the recording.
func (c *Controller) Close() {
	c.sink.Stop()
	c.sink.Close()
	c.mu.Lock()
	c.pcm = nil
	c.path = ""
	c.pos = 0
	c.playing = false
	c.mu.Unlock()
}

func (c *Controller) fill(dst []byte) int {
	c.mu.Lock()
	if !c.playing || c.pos >= len(c.pcm) {
		ended := c.playing
		c.playing = false
		onEnd := c.OnEnd
		c.mu.Unlock()
		if ended && onEnd != nil {
			go onEnd()
		}
		return 0
	}
	n := copy(dst, c.pcm[c.pos:])
	n -= n % int(c.format.BlockAlign())
	c.pos += n
	c.mu.Unlock()
	return n
}
