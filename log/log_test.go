package log

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("COBALT_LOG_PATH", "/tmp/cobalt-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/cobalt-env-log" {
		t.Errorf("got %q, want /tmp/cobalt-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("COBALT_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "cobalt") {
		t.Errorf("default dir %q does not mention cobalt", got)
	}
}

func TestDefaultDirFollowsConfigHome(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is linux only")
	}
	cfg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfg)
	got, err := defaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(cfg, "cobalt", "logs"); got != want {
		t.Errorf("defaultDir = %q, want %q", got, want)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "transcripts_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTranscriptText(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	TranscriptText("note-1", "hello world")

	data, err := os.ReadFile(filepath.Join(tmp, "transcripts_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "note-1\thello world") {
		t.Errorf("transcripts_log.txt missing text, got: %q", line)
	}
}

func TestStructuredEvents(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	StateChange("Recording", "Paused")
	Transcription(TranscriptionMetrics{Backend: "local", HasText: true, TextLength: 5})
	Transcode(TranscodeMetrics{RawKB: 100, CompressedKB: 40, CompressionPct: 60})
	comp := Component("capture")
	comp.Info().Msg("segment sealed")
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"from=Recording", "to=Paused", "backend=local", "compression_pct=60", "component=capture", "segment sealed"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics log missing %q:\n%s", want, out)
		}
	}
}

func TestLoggingBeforeInitIsSilent(t *testing.T) {
	SetDir(t.TempDir())
	Info("dropped")
	StateChange("Idle", "Recording")
	TranscriptText("x", "dropped")
	l := Component("test")
	l.Info().Msg("dropped")
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
