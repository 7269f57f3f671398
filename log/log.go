package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger = zerolog.Nop()
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// TranscriptionMetrics describes one finished recognition pass.
type TranscriptionMetrics struct {
	Backend    string
	AudioS     float64
	RawKB      float64
	ElapsedMs  float64
	Partials   int
	HasText    bool
	TimedOut   bool
	FellBack   bool
	TextLength int
}

type TranscodeMetrics struct {
	AudioS         float64
	RawKB          float64
	CompressedKB   float64
	CompressionPct float64
	EncodeMs       float64
	TotalMs        float64
}

type StreamMetrics struct {
	ConnectMs    float64
	FinalizeMs   float64
	TotalMs      float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvPartial  int
}

func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}

	if envPath := os.Getenv("COBALT_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	return defaultDir()
}

// defaultDir keeps logs next to the rest of cobalt's data, except on macOS
// where Console.app looks in ~/Library/Logs.
func defaultDir() (string, error) {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "cobalt"), nil
	}
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "cobalt", "logs"), nil
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcripts_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	diagLog = zerolog.Nop()
	logReady = false
}

// Component returns a child logger tagged with the component name. Before
// Init it discards everything.
func Component(name string) zerolog.Logger {
	logMu.Lock()
	defer logMu.Unlock()
	return diagLog.With().Str("component", name).Logger()
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func StateChange(from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("from", from).Str("to", to).Msg("state")
}

func Transcription(m TranscriptionMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", m.Backend).
		Float64("audio_s", m.AudioS).
		Float64("raw_kb", m.RawKB).
		Float64("elapsed_ms", m.ElapsedMs).
		Int("partials", m.Partials).
		Bool("has_text", m.HasText).
		Bool("timed_out", m.TimedOut).
		Bool("fell_back", m.FellBack).
		Int("text_len", m.TextLength).
		Msg("transcription")
}

func Transcode(m TranscodeMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("audio_s", m.AudioS).
		Float64("raw_kb", m.RawKB).
		Float64("compressed_kb", m.CompressedKB).
		Float64("compression_pct", m.CompressionPct).
		Float64("encode_ms", m.EncodeMs).
		Float64("total_ms", m.TotalMs).
		Msg("transcode")
}

func Stream(m StreamMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("finalize_ms", m.FinalizeMs).
		Float64("total_ms", m.TotalMs).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("recv_messages", m.RecvMessages).
		Int("recv_partial", m.RecvPartial).
		Msg("stream_transcription")
}

// TranscriptText appends one recognized transcript to the transcript log.
func TranscriptText(noteID, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, noteID, text)
	transcriptFile.WriteString(line)
}

func SessionStart(backend, dir string, segmented bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", backend).
		Str("dir", dir).
		Bool("segmented", segmented).
		Msg("session_start")
}

func SessionEnd(saved int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("saved", saved).
		Msg("session_end")
}
