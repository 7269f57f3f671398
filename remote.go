package main

import (
	"context"
	"sync"
	"time"

	"cobalt/transcriber"
)

// remoteBackend follows the configured server address. A new stream client
// is built whenever the address changes between recordings.
type remoteBackend struct {
	addr      func() string
	onPartial func(text string)

	mu     sync.Mutex
	stream *transcriber.Stream
	at     string
}

func (r *remoteBackend) Name() string { return "remote" }

func (r *remoteBackend) current() *transcriber.Stream {
	addr := r.addr()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || r.at != addr {
		if r.stream != nil {
			r.stream.Close()
		}
		r.stream = transcriber.NewStream(transcriber.StreamConfig{Addr: addr, OnPartial: r.onPartial})
		r.at = addr
	}
	return r.stream
}

func (r *remoteBackend) Transcribe(ctx context.Context, path string) (transcriber.Result, error) {
	return r.current().Transcribe(ctx, path)
}

func (r *remoteBackend) Close() error {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (r *remoteBackend) Ping(ctx context.Context) (time.Duration, error) {
	return r.current().Ping(ctx)
}
