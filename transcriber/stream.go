package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cobalt/log"
	"cobalt/wav"
)

const (
	DefaultChunkSize   = 6400
	DefaultDialTimeout = 10 * time.Second
	DefaultReadTimeout = 60 * time.Second

	eofMessage = `{"eof":1}`
)

type StreamConfig struct {
	// Addr is host:port or a full ws:// or wss:// URL.
	Addr        string
	ChunkSize   int
	DialTimeout time.Duration
	ReadTimeout time.Duration
	// OnPartial receives intermediate hypotheses. It must not block.
	OnPartial func(text string)
}

// Stream is the remote streaming backend. It keeps at most one connection
// open; starting a transcription closes any connection left from a previous
// one, and Close shuts the current one from outside.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu     sync.Mutex
	active *streamSession
}

func NewStream(cfg StreamConfig) *Stream {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Stream{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: log.Component("remote"),
	}
}

func (s *Stream) Name() string { return "remote" }

// URL is the websocket endpoint derived from Addr.
func (s *Stream) URL() string {
	addr := s.cfg.Addr
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return (&url.URL{Scheme: "ws", Host: addr}).String()
}

// Ping dials the service and closes the connection straight away.
func (s *Stream) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	conn, err := s.dial(ctx, &NetworkMetrics{})
	if err != nil {
		return 0, err
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ping"),
		time.Now().Add(time.Second))
	conn.Close()
	return time.Since(start), nil
}

func (s *Stream) dial(parent context.Context, nm *NetworkMetrics) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.DialTimeout)
	defer cancel()

	start := time.Now()
	conn, resp, err := s.dialer.DialContext(withDialTrace(ctx, nm), s.URL(), nil)
	nm.Connect = time.Since(start)
	if err != nil {
		if perr := parent.Err(); perr != nil {
			return nil, perr
		}
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &ProtocolError{Frame: resp.Status, Err: err}
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, s.URL(), err)
	}
	return conn, nil
}

// Transcribe streams the payload of path and waits for the final text. A
// connection that closes before any text arrives yields an empty Result and
// a nil error.
func (s *Stream) Transcribe(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	payload, err := wav.OpenPayload(path)
	if err != nil {
		return Result{}, err
	}
	defer payload.Close()

	s.Close()

	nm := &NetworkMetrics{}
	conn, err := s.dial(ctx, nm)
	if err != nil {
		return Result{}, err
	}

	sess := newStreamSession(conn, s.cfg, s.logger)
	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.active == sess {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	go sess.runSender(payload)
	go sess.runReceiver()

	select {
	case <-sess.recvDone:
	case <-ctx.Done():
		sess.shutdown("cancelled")
		<-sess.recvDone
		<-sess.sendDone
		return Result{}, ctx.Err()
	}
	sess.shutdown("done")
	<-sess.sendDone

	text, found, stats, sessErr := sess.outcome()
	stats.total = time.Since(start)
	log.Stream(log.StreamMetrics{
		ConnectMs:    float64(nm.Connect.Microseconds()) / 1000,
		FinalizeMs:   float64(stats.finalize.Microseconds()) / 1000,
		TotalMs:      float64(stats.total.Microseconds()) / 1000,
		SentChunks:   stats.sentChunks,
		SentKB:       float64(stats.sentBytes) / 1024,
		RecvMessages: stats.recvMessages,
		RecvPartial:  stats.recvPartial,
	})

	if !found {
		if sessErr != nil {
			return Result{}, sessErr
		}
		s.logger.Info().Int("partials", stats.recvPartial).Msg("closed without final text")
	}
	r := newResult(s.Name(), strings.TrimSpace(text), start)
	r.Partials = stats.recvPartial
	r.Network = nm
	return r, nil
}

// Close force-closes the live connection, if any. The transcription using it
// returns whatever it has received so far.
func (s *Stream) Close() error {
	s.mu.Lock()
	sess := s.active
	s.active = nil
	s.mu.Unlock()
	if sess != nil {
		sess.shutdown("closed")
	}
	return nil
}

type streamStats struct {
	sentChunks   int
	sentBytes    int64
	recvMessages int
	recvPartial  int
	malformed    int
	lastBad      string
	finalize     time.Duration
	total        time.Duration
}

// streamSession is one connection: a sender goroutine writing the payload
// and a receiver goroutine collecting frames.
type streamSession struct {
	conn      *websocket.Conn
	chunkSize int
	readLimit time.Duration
	onPartial func(string)
	logger    zerolog.Logger

	sendDone chan struct{}
	recvDone chan struct{}

	mu        sync.Mutex
	err       error
	errOnce   sync.Once
	closing   bool
	closeOnce sync.Once
	text      string
	found     bool
	eofSentAt time.Time
	stats     streamStats
}

func newStreamSession(conn *websocket.Conn, cfg StreamConfig, logger zerolog.Logger) *streamSession {
	return &streamSession{
		conn:      conn,
		chunkSize: cfg.ChunkSize,
		readLimit: cfg.ReadTimeout,
		onPartial: cfg.OnPartial,
		logger:    logger,
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
	}
}

func (s *streamSession) runSender(r io.Reader) {
	defer close(s.sendDone)
	buf := make([]byte, s.chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				s.setErr(fmt.Errorf("%w: send audio: %v", ErrNetwork, werr))
				return
			}
			s.mu.Lock()
			s.stats.sentChunks++
			s.stats.sentBytes += int64(n)
			s.mu.Unlock()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			s.setErr(fmt.Errorf("read payload: %w", err))
			return
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(eofMessage)); err != nil {
		s.setErr(fmt.Errorf("%w: send eof: %v", ErrNetwork, err))
		return
	}
	s.mu.Lock()
	s.eofSentAt = time.Now()
	s.mu.Unlock()
}

type serverFrame struct {
	Partial *string          `json:"partial"`
	Text    *string          `json:"text"`
	Final   *json.RawMessage `json:"final"`
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	for {
		if s.readLimit > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readLimit))
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			quiet := s.closing || s.found
			s.mu.Unlock()
			if quiet {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.logger.Debug().Int("code", ce.Code).Str("reason", ce.Text).Msg("server closed stream")
				return
			}
			s.setErr(fmt.Errorf("%w: read: %v", ErrNetwork, err))
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		s.mu.Lock()
		s.stats.recvMessages++
		s.mu.Unlock()

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn().Err(err).Str("frame", string(data)).Msg("unparseable frame")
			s.mu.Lock()
			s.stats.malformed++
			s.stats.lastBad = string(data)
			s.mu.Unlock()
			continue
		}

		switch {
		case f.Text != nil:
			if s.commit(*f.Text, isTrue(f.Final)) {
				s.shutdown("Done")
				return
			}
		case f.Partial != nil:
			s.mu.Lock()
			s.stats.recvPartial++
			s.mu.Unlock()
			s.logger.Debug().Str("partial", *f.Partial).Msg("partial")
			if s.onPartial != nil {
				s.onPartial(*f.Partial)
			}
		}
	}
}

// commit appends a text frame. The result is taken once the server marks it
// final or any text has accumulated; the final flag alone is not required.
func (s *streamSession) commit(text string, final bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text += text
	if !final && s.text == "" {
		return false
	}
	s.found = true
	if !s.eofSentAt.IsZero() {
		s.stats.finalize = time.Since(s.eofSentAt)
	}
	return true
}

func isTrue(raw *json.RawMessage) bool {
	if raw == nil {
		return false
	}
	var b bool
	if err := json.Unmarshal(*raw, &b); err == nil {
		return b
	}
	var n float64
	if err := json.Unmarshal(*raw, &n); err == nil {
		return n != 0
	}
	return false
}

func (s *streamSession) setErr(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	})
}

// shutdown sends a normal close frame and drops the connection. Safe to call
// from any goroutine, any number of times.
func (s *streamSession) shutdown(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		s.conn.Close()
	})
}

func (s *streamSession) outcome() (string, bool, streamStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	if !s.found && err == nil && s.stats.malformed > 0 && s.stats.malformed == s.stats.recvMessages {
		err = &ProtocolError{Frame: s.stats.lastBad}
	}
	return s.text, s.found, s.stats, err
}
