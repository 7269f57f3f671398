// Package doctor runs one-shot system diagnostics for cobalt and prints a
// PASS/FAIL line per check.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cobalt/audio"
	"cobalt/notes"
	"cobalt/transcriber"
	"cobalt/voice"
)

const pingTimeout = 3 * time.Second

type Options struct {
	Out io.Writer
	// OpenAudio opens the capture context. Nil means audio.NewContext.
	OpenAudio func() (audio.Context, error)
	// Record is how long the microphone check listens. Zero only lists devices.
	Record time.Duration

	ModelDir  string
	ModelName string
	Server    string
	// Network reports whether any network is up. Nil skips the check.
	Network func() bool

	NotesPath string
	OutDir    string
}

type check struct {
	name string
	run  func(o *Options) bool
}

var checks = []check{
	{"Audio input", checkAudio},
	{"Local model", checkModel},
	{"Network", checkNetwork},
	{"Remote server", checkRemote},
	{"Notes database", checkNotes},
	{"Output directory", checkOutDir},
}

// Run executes every check and returns an exit code (0=all pass, 1=any fail).
func Run(o Options) int {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.OpenAudio == nil {
		o.OpenAudio = audio.NewContext
	}

	fmt.Fprintln(o.Out, "cobalt doctor - system diagnostics")
	fmt.Fprintln(o.Out, "==================================")

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(o.Out)
		fmt.Fprintf(o.Out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.run(&o) {
			allPass = false
		}
	}

	fmt.Fprintln(o.Out)
	if allPass {
		fmt.Fprintln(o.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(o.Out, "Some checks failed. See details above.")
	return 1
}

func pass(o *Options, format string, args ...any) bool {
	fmt.Fprintf(o.Out, "  PASS: "+format+"\n", args...)
	return true
}

func fail(o *Options, format string, args ...any) bool {
	fmt.Fprintf(o.Out, "  FAIL: "+format+"\n", args...)
	return false
}

func skip(o *Options, format string, args ...any) bool {
	fmt.Fprintf(o.Out, "  SKIP: "+format+"\n", args...)
	return true
}

func checkAudio(o *Options) bool {
	ctx, err := o.OpenAudio()
	if err != nil {
		return fail(o, "cannot connect to audio: %v", err)
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		return fail(o, "cannot list devices: %v", err)
	}
	if len(devices) == 0 {
		return fail(o, "no capture devices found")
	}
	for i, d := range devices {
		bt := ""
		if audio.IsBluetooth(d.Name) {
			bt = " (bluetooth)"
		}
		fmt.Fprintf(o.Out, "  %d. %s%s\n", i+1, d.Name, bt)
	}
	if o.Record <= 0 {
		return pass(o, "%d capture device(s)", len(devices))
	}

	stop := make(chan struct{})
	go func() {
		time.Sleep(o.Record)
		close(stop)
	}()
	pcm, err := recordAudio(o.Out, ctx, nil, stop)
	if err != nil {
		return fail(o, "recording error: %v", err)
	}
	if len(pcm) == 0 {
		return fail(o, "no audio captured")
	}

	level := voice.RMS(pcm)
	fmt.Fprintf(o.Out, "  Recorded %.1f KB, level %.3f\n", float64(len(pcm))/1024, level)
	if level < voice.DefaultThreshold/4 {
		return fail(o, "input is silent, check the microphone is not muted")
	}
	return pass(o, "microphone is capturing")
}

func recordAudio(out io.Writer, ctx audio.Context, device *audio.DeviceInfo, stop <-chan struct{}) ([]byte, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex
	var stopped bool
	done := make(chan struct{})

	dev, err := ctx.NewCapture(device, audio.VoiceConfig)
	if err != nil {
		return nil, err
	}

	dev.SetCallback(func(data []byte, _ uint32) {
		bufMu.Lock()
		if !stopped {
			pcmBuf = append(pcmBuf, data...)
		}
		bufMu.Unlock()
	})

	if err := dev.Start(); err != nil {
		dev.Close()
		return nil, err
	}

	fmt.Fprint(out, "  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprint(out, ".")
			}
		}
	}()

	<-stop
	close(done)

	dev.Stop()
	fmt.Fprintln(out, " done")
	dev.Close()

	bufMu.Lock()
	stopped = true
	raw := pcmBuf
	bufMu.Unlock()
	return raw, nil
}

func checkModel(o *Options) bool {
	name := o.ModelName
	if name == "" {
		name = transcriber.DefaultModelName
	}
	if o.ModelDir == "" {
		return skip(o, "no model directory configured")
	}
	if !transcriber.ModelValid(o.ModelDir, name) {
		for _, f := range transcriber.RequiredModelFiles(name) {
			if _, err := os.Stat(filepath.Join(o.ModelDir, filepath.FromSlash(f))); err != nil {
				fmt.Fprintf(o.Out, "  missing: %s\n", f)
			}
		}
		return fail(o, "model %s is incomplete in %s", name, o.ModelDir)
	}
	return pass(o, "model %s ready", name)
}

func checkNetwork(o *Options) bool {
	if o.Network == nil {
		return skip(o, "no network checker")
	}
	if !o.Network() {
		return fail(o, "no active network interface")
	}
	return pass(o, "network is up")
}

func checkRemote(o *Options) bool {
	if o.Server == "" {
		return skip(o, "no server configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	rtt, err := transcriber.NewStream(transcriber.StreamConfig{Addr: o.Server}).Ping(ctx)
	if err != nil {
		return fail(o, "%s: %v", o.Server, err)
	}
	return pass(o, "%s answered in %dms", o.Server, rtt.Milliseconds())
}

func checkNotes(o *Options) bool {
	if o.NotesPath == "" {
		return skip(o, "no database path")
	}
	store, err := notes.Open(o.NotesPath)
	if err != nil {
		return fail(o, "open %s: %v", o.NotesPath, err)
	}
	defer store.Close()
	all, err := store.All(context.Background())
	if err != nil {
		return fail(o, "query notes: %v", err)
	}
	return pass(o, "%d note(s) in %s", len(all), o.NotesPath)
}

func checkOutDir(o *Options) bool {
	if o.OutDir == "" {
		return skip(o, "no output directory")
	}
	if err := os.MkdirAll(o.OutDir, 0o755); err != nil {
		return fail(o, "create %s: %v", o.OutDir, err)
	}
	f, err := os.CreateTemp(o.OutDir, ".doctor-*")
	if err != nil {
		return fail(o, "%s is not writable: %v", o.OutDir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return pass(o, "%s is writable", o.OutDir)
}
