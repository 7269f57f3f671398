package transcriber

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// NetworkMetrics times the websocket handshake of a remote transcription.
type NetworkMetrics struct {
	DNS       time.Duration
	TCP       time.Duration
	TLS       time.Duration
	Handshake time.Duration // request written to first response byte
	Connect   time.Duration // whole dial
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.DNS + m.TCP + m.TLS + m.Handshake
}

// withDialTrace attaches an httptrace hook set that fills m. The websocket
// dialer reports connection, TLS and first-byte events through it and the
// resolver reports DNS.
func withDialTrace(ctx context.Context, m *NetworkMetrics) context.Context {
	var mu sync.Mutex
	var dnsStart, tcpStart, tlsStart, wroteHeaders time.Time

	trace := &httptrace.ClientTrace{
		DNSStart: func(_ httptrace.DNSStartInfo) {
			mu.Lock()
			dnsStart = time.Now()
			mu.Unlock()
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			mu.Lock()
			m.DNS = time.Since(dnsStart)
			mu.Unlock()
		},
		ConnectStart: func(_, _ string) {
			mu.Lock()
			tcpStart = time.Now()
			mu.Unlock()
		},
		ConnectDone: func(_, _ string, _ error) {
			mu.Lock()
			m.TCP = time.Since(tcpStart)
			mu.Unlock()
		},
		TLSHandshakeStart: func() {
			mu.Lock()
			tlsStart = time.Now()
			mu.Unlock()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			mu.Lock()
			m.TLS = time.Since(tlsStart)
			mu.Unlock()
		},
		WroteHeaders: func() {
			mu.Lock()
			wroteHeaders = time.Now()
			mu.Unlock()
		},
		GotFirstResponseByte: func() {
			mu.Lock()
			if !wroteHeaders.IsZero() {
				m.Handshake = time.Since(wroteHeaders)
			}
			mu.Unlock()
		},
	}
	return httptrace.WithClientTrace(ctx, trace)
}
