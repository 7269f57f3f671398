package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cobalt/audio"
	"cobalt/capture"
	"cobalt/log"
	"cobalt/notes"
	"cobalt/pipeline"
	"cobalt/playback"
	"cobalt/settings"
	"cobalt/transcode"
	"cobalt/transcriber"
	"cobalt/voice"
)

var errNoPlayer = errors.New("playback unavailable")

type appConfig struct {
	Audio     audio.Context
	Device    *audio.DeviceInfo
	CacheDir  string
	OutDir    string
	Segmented bool

	Local     transcriber.Backend
	Remote    pipeline.RemoteBackend
	Settings  *settings.Store
	Reachable func() bool
	Timeout   time.Duration
	Notes     *notes.Store

	// Player and Cues may be nil when no output device is available.
	Player   *playback.Controller
	Cues     *playback.Cues
	AutoStop bool
	Out      io.Writer
}

// app binds the orchestrator to the note store, settings and playback, and
// executes the text commands shared by the stdin driver and the TUI.
type app struct {
	cfg    appConfig
	orch   *pipeline.Orchestrator
	store  *notes.Store
	player *playback.Controller
	cues   *playback.Cues
	meter  *voice.Meter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	monitor   *voice.Monitor
	partial   string
	lastAudio string

	noVoice atomic.Bool
	notes   atomic.Int64
}

func newApp(cfg appConfig) *app {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		cfg:     cfg,
		store:   cfg.Notes,
		player:  cfg.Player,
		cues:    cfg.Cues,
		meter:   voice.NewMeter(voice.DefaultThreshold),
		monitor: voice.NewMonitor(cfg.AutoStop),
		ctx:     ctx,
		cancel:  cancel,
		out:     cfg.Out,
	}

	lease := &audio.Lease{}
	perm := audio.DevicePermission{Context: cfg.Audio}
	a.orch = pipeline.New(pipeline.Config{
		NewCapture: func() pipeline.Capture {
			return capture.New(cfg.Audio, cfg.Device, capture.Config{
				Dir:        cfg.CacheDir,
				Segmented:  cfg.Segmented,
				Permission: perm,
				Lease:      lease,
				OnChunk:    func(pcm []byte) { a.meter.Process(pcm) },
			})
		},
		Local:  cfg.Local,
		Remote: cfg.Remote,
		Policy: pipeline.Policy{
			PreferRemote: func() bool { return cfg.Settings != nil && cfg.Settings.PreferRemote() },
			Reachable:    cfg.Reachable,
		},
		Transcoder: &transcode.Stage{OutDir: cfg.OutDir},
		Timeout:    cfg.Timeout,
		Notes:      cfg.Notes,
	})
	a.refreshCount()

	_, events := a.orch.Subscribe()
	a.wg.Add(2)
	go a.handleEvents(events)
	go a.watchSilence()
	if cfg.Notes != nil {
		a.wg.Add(1)
		go a.watchNotes(cfg.Notes.Changes())
	}
	if cfg.Settings != nil {
		a.wg.Add(1)
		go a.watchSettings(cfg.Settings.Changes())
	}
	return a
}

func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// setOutput redirects command output, e.g. to io.Discard once the TUI owns
// the terminal.
func (a *app) setOutput(w io.Writer) {
	a.outMu.Lock()
	a.out = w
	a.outMu.Unlock()
}

func (a *app) setPartial(text string) {
	a.mu.Lock()
	a.partial = text
	a.mu.Unlock()
}

func (a *app) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

func (a *app) Level() float64   { return a.meter.Level() }
func (a *app) NoVoice() bool    { return a.noVoice.Load() }
func (a *app) NoteCount() int64 { return a.notes.Load() }

func (a *app) RemotePreferred() bool {
	return a.cfg.Settings != nil && a.cfg.Settings.PreferRemote()
}

// exec runs one command line. quit is true for quit and exit.
func (a *app) exec(ctx context.Context, line string) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "":
		return false, nil
	case "start":
		return false, a.start()
	case "pause":
		return false, a.orch.Pause()
	case "resume":
		return false, a.orch.Resume()
	case "stop":
		return false, a.orch.Stop()
	case "cancel":
		return false, a.orch.Cancel()
	case "discard":
		return false, a.orch.Discard()
	case "edit":
		return false, a.orch.EditTranscript(arg)
	case "save":
		return false, a.save(ctx, arg)
	case "list":
		return false, a.list(ctx)
	case "search":
		return false, a.search(ctx, arg)
	case "delete":
		return false, a.delete(ctx, arg)
	case "remote":
		return false, a.remote(arg)
	case "play":
		return false, a.play(ctx, arg)
	case "ff":
		return false, a.skip(true)
	case "rew":
		return false, a.skip(false)
	case "status":
		a.status()
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	return false, fmt.Errorf("unknown command %q", cmd)
}

func (a *app) start() error {
	a.meter.Reset()
	a.mu.Lock()
	a.monitor.Reset()
	a.partial = ""
	a.mu.Unlock()
	a.noVoice.Store(false)
	return a.orch.Start()
}

func (a *app) save(ctx context.Context, title string) error {
	n, err := a.orch.Save(ctx, title)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.lastAudio = n.AudioPath
	a.mu.Unlock()
	a.printf("saved %s %q\n", n.ID, n.Title)
	return nil
}

func (a *app) list(ctx context.Context) error {
	all, err := a.store.All(ctx)
	if err != nil {
		return err
	}
	a.printNotes(all)
	return nil
}

func (a *app) search(ctx context.Context, q string) error {
	found, err := a.store.Search(ctx, q)
	if err != nil {
		return err
	}
	a.printNotes(found)
	return nil
}

func (a *app) printNotes(list []notes.Note) {
	if len(list) == 0 {
		a.printf("no notes\n")
		return
	}
	for _, n := range list {
		a.printf("%s  %s  %s: %s\n", n.ID, n.CreatedAt.Format("2006-01-02 15:04"), n.Title, preview(n.Transcript, 60))
	}
}

func (a *app) delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("usage: delete <id>")
	}
	n, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p := a.player; p != nil && n.AudioPath == p.Path() {
		p.Stop()
	}
	if err := a.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	a.printf("deleted %s\n", id)
	return nil
}

func (a *app) remote(arg string) error {
	s := a.cfg.Settings
	if s == nil {
		return errors.New("settings unavailable")
	}
	var err error
	switch strings.ToLower(arg) {
	case "":
	case "on":
		err = s.SetPreferRemote(true)
	case "off":
		err = s.SetPreferRemote(false)
	case "toggle":
		_, err = s.TogglePreferRemote()
	default:
		return fmt.Errorf("usage: remote on|off|toggle")
	}
	if err != nil {
		return err
	}
	a.printf("remote: %s (%s)\n", onOff(s.PreferRemote()), s.Server())
	return nil
}

func (a *app) play(ctx context.Context, id string) error {
	if a.player == nil {
		return errNoPlayer
	}
	var path string
	switch {
	case id != "":
		n, err := a.store.Get(ctx, id)
		if err != nil {
			return err
		}
		path = n.AudioPath
	case a.orch.State() == pipeline.Stopped:
		path = a.orch.Snapshot().AudioPath
	default:
		a.mu.Lock()
		path = a.lastAudio
		a.mu.Unlock()
	}
	if path == "" {
		return playback.ErrNotLoaded
	}
	if a.player.Path() != path {
		if err := a.player.Load(path); err != nil {
			return err
		}
	}
	if err := a.player.Toggle(); err != nil {
		return err
	}
	if a.player.Playing() {
		a.printf("playing %s at %s/%s\n", path, a.player.Position().Round(time.Second), a.player.Duration().Round(time.Second))
	} else {
		a.printf("paused at %s\n", a.player.Position().Round(time.Second))
	}
	return nil
}

func (a *app) skip(forward bool) error {
	if a.player == nil {
		return errNoPlayer
	}
	if forward {
		a.player.FastForward()
	} else {
		a.player.FastBackward()
	}
	a.printf("position %s\n", a.player.Position().Round(time.Second))
	return nil
}

func (a *app) status() {
	snap := a.orch.Snapshot()
	a.printf("state: %s elapsed: %s remote: %s notes: %d\n",
		snap.State, snap.Elapsed.Round(100*time.Millisecond), onOff(a.RemotePreferred()), a.NoteCount())
	if snap.State == pipeline.Stopped {
		a.printf("transcript (%s): %s\n", snap.Backend, snap.Transcript)
	}
}

func (a *app) handleEvents(events <-chan pipeline.Event) {
	defer a.wg.Done()
	prev := pipeline.Idle
	for ev := range events {
		switch ev.Type {
		case pipeline.StateChanged:
			if ev.State == prev {
				if ev.State == pipeline.Stopped {
					a.printf("transcript: %s\n", ev.Snapshot.Transcript)
				}
				continue
			}
			switch {
			case ev.State == pipeline.Recording && prev != pipeline.Paused:
				a.cues.Play(playback.CueStart)
			case ev.State == pipeline.Processing:
				a.cues.Play(playback.CueStop)
			}
			prev = ev.State
			a.printf("state: %s\n", ev.State)
			if ev.State == pipeline.Stopped {
				snap := ev.Snapshot
				a.printf("transcript (%s, %s): %s\n", snap.Backend, snap.Duration.Round(100*time.Millisecond), snap.Transcript)
				a.printf("audio: %s\n", snap.AudioPath)
			}
		case pipeline.PermissionNeeded:
			a.cues.Play(playback.CueError)
			a.printf("microphone permission needed\n")
		case pipeline.Discarded:
			a.printf("discarded\n")
		case pipeline.Error:
			a.cues.Play(playback.CueError)
			a.printf("error: %v\n", ev.Err)
		}
	}
}

// watchSilence feeds the silence monitor once per tick while recording.
func (a *app) watchSilence() {
	defer a.wg.Done()
	t := time.NewTicker(voice.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-t.C:
		}
		if a.orch.State() != pipeline.Recording {
			continue
		}
		a.mu.Lock()
		ev := a.monitor.Tick(a.meter.HasSpeechTick())
		a.mu.Unlock()

		switch ev {
		case voice.SilenceWarn, voice.SilenceRepeat:
			log.Info("no_voice_warning")
			a.noVoice.Store(true)
			a.cues.Play(playback.CueError)
			a.printf("warning: no voice detected\n")
		case voice.SilenceWarnClear:
			a.noVoice.Store(false)
		case voice.SilenceAutoStop:
			log.Info("silence_auto_stop")
			a.printf("stopping after prolonged silence\n")
			if err := a.orch.Stop(); err != nil {
				log.Warnf("auto stop: %v", err)
			}
		}
	}
}

func (a *app) watchNotes(changes <-chan notes.Change) {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			log.Infof("notes %s: %d", ch.Kind, len(ch.IDs))
			a.refreshCount()
		}
	}
}

func (a *app) refreshCount() {
	if a.store == nil {
		return
	}
	all, err := a.store.All(a.ctx)
	if err != nil {
		log.Warnf("count notes: %v", err)
		return
	}
	a.notes.Store(int64(len(all)))
}

func (a *app) watchSettings(changes <-chan settings.Values) {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case v := <-changes:
			a.printf("settings: remote %s, server %s\n", onOff(v.PreferRemote), v.Server)
		}
	}
}

// close discards any unsaved session and stops background work. The note
// store and settings belong to the caller.
func (a *app) close() int {
	saved := a.orch.Saved()
	a.orch.Close()
	a.cancel()
	a.wg.Wait()
	if a.player != nil {
		a.player.Close()
	}
	a.cues.Close()
	return saved
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
