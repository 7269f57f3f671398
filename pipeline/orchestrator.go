// Package pipeline drives a recording from capture through transcription and
// transcoding to a saved note.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cobalt/audio"
	"cobalt/capture"
	"cobalt/log"
	"cobalt/notes"
	"cobalt/transcode"
	"cobalt/transcriber"
)

const (
	DefaultTimeout = 30 * time.Second

	TimeoutText = "Recognition timed out"
	FailedText  = "Recognition failed"

	subscriberBuffer = 32
)

var (
	ErrInvalidTransition = errors.New("pipeline: invalid transition")
	ErrBusy              = errors.New("pipeline: processing")
)

// Capture is one recording session. *capture.Session satisfies it.
type Capture interface {
	Start() (string, error)
	Pause() error
	Resume() error
	Stop() (*capture.Take, error)
	Cancel()
	Elapsed() time.Duration
	State() capture.State
}

// Transcoder compresses a sealed raw container. *transcode.Stage satisfies it.
type Transcoder interface {
	Transcode(ctx context.Context, rawPath string) (*transcode.Artifact, error)
}

// RemoteBackend is a backend holding a connection that must be released
// after every stop pipeline.
type RemoteBackend interface {
	transcriber.Backend
	Close() error
}

// NoteSink stores saved recordings. *notes.Store satisfies it.
type NoteSink interface {
	Insert(ctx context.Context, n *notes.Note) error
}

// Policy picks the backend for each stop pipeline: remote when preferred and
// the network is reachable, local otherwise. Nil funcs count as false.
type Policy struct {
	PreferRemote func() bool
	Reachable    func() bool
}

func (p Policy) UseRemote() bool {
	return p.PreferRemote != nil && p.PreferRemote() && p.Reachable != nil && p.Reachable()
}

type Config struct {
	NewCapture func() Capture
	Local      transcriber.Backend
	Remote     RemoteBackend
	Policy     Policy
	Transcoder Transcoder
	Timeout    time.Duration
	Notes      NoteSink
	// DropRawOnTranscodeFailure deletes the raw container even when no
	// compressed artifact could be produced.
	DropRawOnTranscodeFailure bool
}

// Orchestrator owns at most one live session. All methods are safe for
// concurrent use; the stop pipeline runs on its own goroutine.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  State
	sess   Capture
	snap   Snapshot
	subs   map[int]chan Event
	nextID int
	saved  int
	closed bool
}

func New(cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		logger: log.Component("pipeline"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan Event),
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := o.snap
	s.State = o.state
	if o.sess != nil && (o.state == Recording || o.state == Paused) {
		s.Elapsed = o.sess.Elapsed()
	}
	return s
}

// Saved reports how many notes this orchestrator has stored.
func (o *Orchestrator) Saved() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.saved
}

// Subscribe registers an observer. Events are dropped for a subscriber whose
// buffer is full. The channel closes on Unsubscribe or Close.
func (o *Orchestrator) Subscribe() (int, <-chan Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if o.closed {
		close(ch)
		return -1, ch
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	return id, ch
}

func (o *Orchestrator) Unsubscribe(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.subs[id]; ok {
		delete(o.subs, id)
		close(ch)
	}
}

func (o *Orchestrator) publishLocked(ev Event) {
	ev.State = o.state
	ev.Snapshot = o.snapshotLocked()
	for id, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.logger.Warn().Int("subscriber", id).Str("event", ev.Type.String()).Msg("event dropped")
		}
	}
}

func (o *Orchestrator) setStateLocked(to State) {
	from := o.state
	o.state = to
	if from != to {
		log.StateChange(from.String(), to.String())
	}
	o.publishLocked(Event{Type: StateChanged})
}

// Start begins a new recording. An unsaved Stopped session is discarded
// first. A denied microphone permission leaves the state unchanged and
// raises PermissionNeeded.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Processing:
		return ErrBusy
	case Recording, Paused:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, o.state)
	case Stopped:
		o.discardLocked()
	}
	if o.closed {
		return fmt.Errorf("%w: closed", ErrInvalidTransition)
	}

	sess := o.cfg.NewCapture()
	path, err := sess.Start()
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			o.publishLocked(Event{Type: PermissionNeeded, Err: err})
		} else {
			o.publishLocked(Event{Type: Error, Err: err})
		}
		o.logger.Warn().Err(err).Msg("start refused")
		return err
	}

	o.sess = sess
	o.snap = Snapshot{RawPath: path}
	o.setStateLocked(Recording)
	return nil
}

func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Recording {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, o.state)
	}
	err := o.sess.Pause()
	if err != nil {
		o.publishLocked(Event{Type: Error, Err: err})
	}
	// A segment that failed to seal still leaves the session paused.
	if o.sess.State() == capture.Paused {
		o.setStateLocked(Paused)
	}
	return err
}

func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Paused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, o.state)
	}
	if err := o.sess.Resume(); err != nil {
		o.publishLocked(Event{Type: Error, Err: err})
		return err
	}
	o.setStateLocked(Recording)
	return nil
}

// Stop moves to Processing and runs the stop pipeline in the background. Use
// Wait or subscribe to learn when it has finished.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Recording && o.state != Paused {
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, o.state)
	}
	o.snap.Elapsed = o.sess.Elapsed()
	o.setStateLocked(Processing)

	sess := o.sess
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.process(sess)
	}()
	return nil
}

// Cancel discards the live or stopped session and returns to Idle.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Processing:
		return ErrBusy
	case Idle:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, o.state)
	case Stopped:
		o.discardLocked()
		o.setStateLocked(Idle)
		return nil
	}
	o.sess.Cancel()
	o.sess = nil
	o.snap = Snapshot{}
	o.publishLocked(Event{Type: Discarded})
	o.setStateLocked(Idle)
	return nil
}

// Discard drops a stopped, unsaved result and its files.
func (o *Orchestrator) Discard() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Stopped {
		return fmt.Errorf("%w: discard from %s", ErrInvalidTransition, o.state)
	}
	o.discardLocked()
	o.setStateLocked(Idle)
	return nil
}

func (o *Orchestrator) discardLocked() {
	for _, p := range []string{o.snap.AudioPath, o.snap.RawPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn().Err(err).Str("path", p).Msg("remove unsaved audio")
		}
	}
	if o.sess != nil {
		o.sess.Cancel()
		o.sess = nil
	}
	o.snap = Snapshot{}
	o.state = Idle
	o.publishLocked(Event{Type: Discarded})
}

// EditTranscript replaces the transcript of a stopped session.
func (o *Orchestrator) EditTranscript(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Stopped {
		return fmt.Errorf("%w: edit from %s", ErrInvalidTransition, o.state)
	}
	o.snap.Transcript = text
	o.publishLocked(Event{Type: StateChanged})
	return nil
}

// Save hands the stopped session to the note store, which then owns the
// audio file, and returns to Idle.
func (o *Orchestrator) Save(ctx context.Context, title string) (*notes.Note, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Stopped {
		return nil, fmt.Errorf("%w: save from %s", ErrInvalidTransition, o.state)
	}
	if o.cfg.Notes == nil {
		return nil, errors.New("pipeline: no note store")
	}
	if title == "" {
		title = DefaultTitle(time.Now())
	}
	n := &notes.Note{
		Title:      title,
		CreatedAt:  time.Now(),
		AudioPath:  o.snap.AudioPath,
		Transcript: o.snap.Transcript,
	}
	if err := o.cfg.Notes.Insert(ctx, n); err != nil {
		o.publishLocked(Event{Type: Error, Err: err})
		return nil, err
	}
	log.TranscriptText(n.ID, n.Transcript)
	o.saved++
	o.sess = nil
	o.snap = Snapshot{}
	o.state = Idle
	o.publishLocked(Event{Type: Saved, NoteID: n.ID})
	o.setStateLocked(Idle)
	return n, nil
}

func DefaultTitle(t time.Time) string {
	return "Note " + t.Format("2006-01-02 15:04")
}

// Wait blocks until no stop pipeline is running.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close aborts any running pipeline, discards live and unsaved sessions and
// closes every subscriber channel.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Recording, Paused:
		o.sess.Cancel()
		o.sess = nil
	case Stopped:
		o.discardLocked()
	}
	o.state = Idle
	if o.cfg.Remote != nil {
		o.cfg.Remote.Close()
	}
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	return nil
}
