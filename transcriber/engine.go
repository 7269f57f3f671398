package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cobalt/log"
	"cobalt/wav"
)

const (
	DefaultModelName   = "vosk-model-small-ru-0.22"
	DefaultEngineChunk = 4096
)

// Recognizer consumes PCM and yields a final hypothesis as Vosk-style JSON
// ({"text": "..."}).
type Recognizer interface {
	AcceptWaveform(pcm []byte) error
	FinalResult() (string, error)
	Close() error
}

type Model interface {
	// NewRecognizer starts a recognizer that is abandoned once ctx is done.
	NewRecognizer(ctx context.Context, sampleRate float64) (Recognizer, error)
	Close() error
}

// ModelLoader opens an extracted model directory.
type ModelLoader interface {
	Load(dir string) (Model, error)
}

type EngineConfig struct {
	ModelName string
	// Source holds the bundled model tree under ModelName/. It may be nil
	// when the model is installed into DataDir by other means.
	Source    fs.FS
	DataDir   string
	Loader    ModelLoader
	ChunkSize int
}

// RequiredModelFiles must all exist before an extracted model is trusted.
func RequiredModelFiles(name string) []string {
	return []string{
		"am/final.mdl",
		"graph/HCLr.fst",
		name + ".ini",
	}
}

// ModelValid reports whether dir holds every required model file.
func ModelValid(dir, name string) bool {
	for _, rel := range RequiredModelFiles(name) {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return false
		}
	}
	return true
}

// Engine is the on-device backend. One instance serves the whole process;
// Initialize, Release and Transcribe are mutually exclusive.
type Engine struct {
	cfg    EngineConfig
	logger zerolog.Logger

	mu    sync.Mutex
	model Model
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultEngineChunk
	}
	return &Engine{cfg: cfg, logger: log.Component("engine")}
}

func (e *Engine) Name() string { return "local" }

func (e *Engine) ModelDir() string {
	return filepath.Join(e.cfg.DataDir, "models", e.cfg.ModelName)
}

func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil
}

// Initialize extracts the bundled model on first use and loads it. Calling
// it again after success does nothing.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return nil
	}
	if e.cfg.Loader == nil {
		return fmt.Errorf("%w: no model loader", ErrEngineUnavailable)
	}

	dir := e.ModelDir()
	if !ModelValid(dir, e.cfg.ModelName) {
		if e.cfg.Source == nil {
			return fmt.Errorf("%w: model %s missing from %s", ErrEngineUnavailable, e.cfg.ModelName, dir)
		}
		start := time.Now()
		if err := extractModel(ctx, e.cfg.Source, e.cfg.ModelName, dir); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("%w: extract model: %v", ErrEngineUnavailable, err)
		}
		if !ModelValid(dir, e.cfg.ModelName) {
			os.RemoveAll(dir)
			return fmt.Errorf("%w: bundled model %s is incomplete", ErrEngineUnavailable, e.cfg.ModelName)
		}
		e.logger.Info().Str("dir", dir).Dur("took", time.Since(start)).Msg("model extracted")
	}

	model, err := e.cfg.Loader.Load(dir)
	if err != nil {
		return fmt.Errorf("%w: load model: %v", ErrEngineUnavailable, err)
	}
	e.model = model
	e.logger.Info().Str("model", e.cfg.ModelName).Msg("engine ready")
	return nil
}

// Release frees the model. Transcribe fails with ErrEngineUnavailable until
// the next Initialize.
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.logger.Info().Msg("engine released")
	return err
}

func (e *Engine) Transcribe(ctx context.Context, path string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.model == nil {
		return Result{}, fmt.Errorf("%w: not initialized", ErrEngineUnavailable)
	}
	if !wav.Validate(path, wav.VoiceFormat) {
		return Result{}, fmt.Errorf("%w: %s is not %s PCM", wav.ErrFormat, filepath.Base(path), wav.VoiceFormat)
	}
	payload, err := wav.OpenPayload(path)
	if err != nil {
		return Result{}, err
	}
	defer payload.Close()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	rec, err := e.model.NewRecognizer(ctx, float64(wav.VoiceFormat.SampleRate))
	if err != nil {
		return Result{}, fmt.Errorf("%w: recognizer: %v", ErrEngineUnavailable, err)
	}
	defer rec.Close()

	buf := make([]byte, e.cfg.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		n, rerr := payload.Read(buf)
		if n > 0 {
			if err := rec.AcceptWaveform(buf[:n]); err != nil {
				return Result{}, fmt.Errorf("local recognition: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, fmt.Errorf("read payload: %w", rerr)
		}
	}

	raw, err := rec.FinalResult()
	if cerr := ctx.Err(); cerr != nil {
		return Result{}, cerr
	}
	if err != nil {
		return Result{}, fmt.Errorf("local recognition: %w", err)
	}
	return newResult(e.Name(), finalText(raw), start), nil
}

// finalText pulls the trimmed "text" field out of a recognizer result. Output
// that is not JSON is taken as plain text.
func finalText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var v struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return strings.TrimSpace(v.Text)
}

func extractModel(ctx context.Context, src fs.FS, name, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	sub, err := fs.Sub(src, name)
	if err != nil {
		return err
	}
	if _, err := fs.Stat(sub, "."); err != nil {
		return fmt.Errorf("bundled model %s not found: %w", name, err)
	}
	return fs.WalkDir(sub, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFSFile(sub, p, target)
	})
}

func copyFSFile(src fs.FS, p, target string) error {
	in, err := src.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ Backend = (*Engine)(nil)

var errRecognizerClosed = errors.New("recognizer closed")
