package transcriber

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"cobalt/wav"
)

// Fake returns canned results. It backs -engine fake and the pipeline tests.
type Fake struct {
	BackendName string
	Text        string
	Err         error
	Delay       time.Duration
	// Validate makes Transcribe reject containers the way Engine does.
	Validate bool

	calls  atomic.Int32
	closed atomic.Int32
}

func NewFake(text string, err error) *Fake {
	return &Fake{Text: text, Err: err}
}

func (f *Fake) Name() string {
	if f.BackendName != "" {
		return f.BackendName
	}
	return "fake"
}

func (f *Fake) Transcribe(ctx context.Context, path string) (Result, error) {
	f.calls.Add(1)
	start := time.Now()
	if f.Validate && !wav.Validate(path, wav.VoiceFormat) {
		return Result{}, fmt.Errorf("%w: %s", wav.ErrFormat, path)
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.Err != nil {
		return Result{}, fmt.Errorf("fake transcriber error: %w", f.Err)
	}
	return newResult(f.Name(), f.Text, start), nil
}

// Close counts calls so tests can check that the remote connection is
// always released.
func (f *Fake) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *Fake) Calls() int  { return int(f.calls.Load()) }
func (f *Fake) Closes() int { return int(f.closed.Load()) }
