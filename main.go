package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"cobalt/audio"
	"cobalt/doctor"
	"cobalt/log"
	"cobalt/notes"
	"cobalt/pipeline"
	"cobalt/playback"
	"cobalt/settings"
	"cobalt/shutdown"
	"cobalt/transcriber"
)

var version = "dev"

type options struct {
	logPath    string
	dbPath     string
	outDir     string
	cacheDir   string
	modelName  string
	modelSrc   string
	engine     string
	recognizer string
	fakeText   string
	server     string
	remote     string
	timeout    time.Duration
	segmented  bool
	autoStop   bool
	device     string
	setup      bool
	test       string
	doctor     bool
	tui        bool
	version    bool
	beep       bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("cobalt", flag.ContinueOnError)
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.dbPath, "db", "", "notes database path (default: <data dir>/notes.db)")
	fs.StringVar(&o.outDir, "out", "", "directory for compressed recordings (default: <data dir>/recordings)")
	fs.StringVar(&o.cacheDir, "cache", "", "directory for raw captures (default: user cache dir)")
	fs.StringVar(&o.modelName, "model", transcriber.DefaultModelName, "local recognition model name")
	fs.StringVar(&o.modelSrc, "model-src", "", "directory holding the bundled model to extract on first use")
	fs.StringVar(&o.engine, "engine", "local", "local backend: local or fake")
	fs.StringVar(&o.recognizer, "recognizer", "", "recognizer executable used by the local engine")
	fs.StringVar(&o.fakeText, "fake-text", "test transcript", "text returned by -engine fake")
	fs.StringVar(&o.server, "server", "", "remote recognition server host:port or ws:// URL (overrides settings)")
	fs.StringVar(&o.remote, "remote", "", "persist remote preference: on or off")
	fs.DurationVar(&o.timeout, "timeout", pipeline.DefaultTimeout, "transcription timeout")
	fs.BoolVar(&o.segmented, "segmented", false, "pause by sealing segments instead of suspending the input")
	fs.BoolVar(&o.autoStop, "autostop", false, "stop recording after 30s without speech")
	fs.StringVar(&o.device, "device", "", "use named microphone device")
	fs.BoolVar(&o.setup, "setup", false, "select microphone device (otherwise uses system default)")
	fs.StringVar(&o.test, "test", "", "test mode: replay this WAV file as the microphone (headless, stdin-driven)")
	fs.BoolVar(&o.doctor, "doctor", false, "run system diagnostics and exit")
	fs.BoolVar(&o.tui, "tui", false, "run with terminal UI")
	fs.BoolVar(&o.version, "version", false, "print version and exit")
	fs.BoolVar(&o.beep, "beep", true, "play start/stop cues")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch o.engine {
	case "local", "fake":
	default:
		return nil, fmt.Errorf("unknown engine %q (use local or fake)", o.engine)
	}
	switch o.remote {
	case "", "on", "off":
	default:
		return nil, fmt.Errorf("-remote must be on or off, got %q", o.remote)
	}
	return o, nil
}

// paths resolved from flags, environment and OS defaults
type paths struct {
	data     string
	db       string
	out      string
	cache    string
	settings string
	models   string
}

func resolvePaths(o *options) (paths, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return paths{}, err
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return paths{}, err
	}
	p := paths{
		data:  filepath.Join(cfg, "cobalt"),
		cache: filepath.Join(cache, "cobalt", "capture"),
	}
	p.db = filepath.Join(p.data, "notes.db")
	p.out = filepath.Join(p.data, "recordings")
	p.settings = filepath.Join(p.data, settings.FileName)
	p.models = p.data

	if o.dbPath != "" {
		p.db = o.dbPath
	}
	if o.outDir != "" {
		p.out = o.outDir
	}
	if o.cacheDir != "" {
		p.cache = o.cacheDir
	}
	if env := os.Getenv("COBALT_MODEL_DIR"); env != "" {
		p.models = env
	}
	return p, nil
}

// serverAddr prefers -server, then COBALT_SERVER, then the persisted setting.
func serverAddr(o *options, s *settings.Store) func() string {
	return func() string {
		if o.server != "" {
			return o.server
		}
		if env := os.Getenv("COBALT_SERVER"); env != "" {
			return env
		}
		return s.Server()
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if o.version {
		fmt.Printf("cobalt %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	p, err := resolvePaths(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	st, err := settings.Load(p.settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	addr := serverAddr(o, st)
	network := settings.NetworkChecker{}

	if o.doctor {
		return doctor.Run(doctor.Options{
			Record:    2 * time.Second,
			ModelDir:  filepath.Join(p.models, "models", o.modelName),
			ModelName: o.modelName,
			Server:    addr(),
			Network:   network.Reachable,
			NotesPath: p.db,
			OutDir:    p.out,
		})
	}

	if o.remote != "" {
		if err := st.SetPreferRemote(o.remote == "on"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save settings: %v\n", err)
		}
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := st.Watch(ctx); err != nil {
		log.Warnf("settings watch: %v", err)
	}

	store, err := notes.Open(p.db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	actx, device, err := openAudio(o)
	if errors.Is(err, audio.ErrSelectionAborted) {
		return 130
	}
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	local, release := localBackend(ctx, o, p)
	defer release()

	var a *app
	remote := &remoteBackend{
		addr:      addr,
		onPartial: func(text string) { a.setPartial(text) },
	}

	player, cues := openPlayback(o)

	out := io.Writer(os.Stdout)
	if o.tui {
		out = io.Discard
	}
	a = newApp(appConfig{
		Audio:     actx,
		Device:    device,
		CacheDir:  p.cache,
		OutDir:    p.out,
		Segmented: o.segmented,
		Local:     local,
		Remote:    remote,
		Settings:  st,
		Reachable: network.Reachable,
		Timeout:   o.timeout,
		Notes:     store,
		Player:    player,
		Cues:      cues,
		AutoStop:  o.autoStop,
		Out:       out,
	})
	log.SessionStart(local.Name(), p.cache, o.segmented)
	defer func() { log.SessionEnd(a.close()) }()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)

	if o.tui {
		prog := tea.NewProgram(newTUIModel(a, device), tea.WithAltScreen())
		go func() {
			<-sigChan
			prog.Quit()
		}()
		if _, err := prog.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
			return 1
		}
		return 0
	}

	fmt.Printf("cobalt %s, recordings in %s, type \"quit\" to exit\n", version, p.out)
	return drive(ctx, a, bufio.NewScanner(os.Stdin), sigChan)
}

// openAudio returns the fake replay context in -test mode and the platform
// context otherwise, plus the chosen input device (nil for the default).
func openAudio(o *options) (audio.Context, *audio.DeviceInfo, error) {
	if o.test != "" {
		fake, err := audio.NewFakeContextFromFile(o.test, true)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", o.test, err)
		}
		return fake, nil, nil
	}

	ctx, err := audio.NewContext()
	if err != nil {
		return nil, nil, err
	}
	var device *audio.DeviceInfo
	switch {
	case o.device != "":
		devices, err := ctx.Devices()
		if err == nil {
			for i := range devices {
				if devices[i].Name == o.device {
					device = &devices[i]
					break
				}
			}
		}
		if device == nil {
			log.Warnf("device not found: %s", o.device)
			fmt.Fprintf(os.Stderr, "Warning: device %q not found, using default\n", o.device)
		}
	case o.setup:
		device, err = audio.SelectDevice(ctx)
		if errors.Is(err, audio.ErrSelectionAborted) {
			ctx.Close()
			return nil, nil, err
		}
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			device = nil
		}
	}
	if device != nil {
		log.Info("recording_device: " + device.Name)
	}
	return ctx, device, nil
}

// localBackend builds and initializes the on-device backend. An engine that
// fails to initialize stays wired; its transcriptions then fail and the
// pipeline reports the failure text.
func localBackend(ctx context.Context, o *options, p paths) (transcriber.Backend, func()) {
	if o.engine == "fake" {
		return &transcriber.Fake{BackendName: "local", Text: o.fakeText, Validate: true}, func() {}
	}
	cfg := transcriber.EngineConfig{
		ModelName: o.modelName,
		DataDir:   p.models,
	}
	if o.modelSrc != "" {
		cfg.Source = os.DirFS(o.modelSrc)
	}
	if o.recognizer != "" {
		cfg.Loader = transcriber.CommandLoader{Path: o.recognizer}
	}
	engine := transcriber.NewEngine(cfg)
	if err := engine.Initialize(ctx); err != nil {
		log.Warnf("local engine: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: local engine unavailable: %v\n", err)
	}
	return engine, func() {
		if err := engine.Release(); err != nil {
			log.Warnf("release engine: %v", err)
		}
	}
}

func openPlayback(o *options) (*playback.Controller, *playback.Cues) {
	var player *playback.Controller
	if o.test != "" {
		player = playback.NewController(&playback.ManualSink{})
	} else if sink, err := playback.NewSink(); err == nil {
		player = playback.NewController(sink)
		player.OnEnd = func() { log.Info("playback finished") }
	} else {
		log.Warnf("playback sink: %v", err)
	}

	if !o.beep || o.test != "" {
		return player, nil
	}
	sink, err := playback.NewSink()
	if err != nil {
		log.Warnf("cue sink: %v", err)
		return player, nil
	}
	return player, playback.NewCues(sink, true)
}

// drive reads commands until quit, end of input or a signal.
func drive(ctx context.Context, a *app, sc *bufio.Scanner, sig <-chan os.Signal) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-sig:
			return 0
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				a.orch.Wait()
				return 0
			}
			if handled, quit := testDirective(a, line); handled {
				if quit {
					return 0
				}
				continue
			}
			quit, err := a.exec(ctx, line)
			if err != nil {
				a.printf("error: %v\n", err)
			}
			if quit {
				return 0
			}
		}
	}
}
