// Package transcriber turns sealed voice recordings into text, either with an
// on-device engine or a remote streaming service.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNetwork           = errors.New("transcriber: network error")
	ErrProtocol          = errors.New("transcriber: protocol error")
	ErrEngineUnavailable = errors.New("transcriber: engine unavailable")
)

// Result is the outcome of one transcription. HasText is false when the
// backend produced nothing, which is not an error.
type Result struct {
	Text     string
	HasText  bool
	Backend  string
	Partials int
	Elapsed  time.Duration
	Network  *NetworkMetrics // remote only
}

// Backend transcribes the recording at path. Implementations must honor ctx
// cancellation.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, path string) (Result, error)
}

// ProtocolError carries the server frame that could not be understood.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	frame := e.Frame
	if len(frame) > 120 {
		frame = frame[:120] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("transcriber: protocol error: %v (frame %q)", e.Err, frame)
	}
	return fmt.Sprintf("transcriber: protocol error (frame %q)", frame)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

func newResult(backend, text string, start time.Time) Result {
	return Result{
		Text:    text,
		HasText: text != "",
		Backend: backend,
		Elapsed: time.Since(start),
	}
}
