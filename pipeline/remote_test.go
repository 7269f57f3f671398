package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cobalt/transcriber"
)

// partialOnlyServer answers every stream with one partial and a close.
func partialOnlyServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "eof") {
				break
			}
		}
		c.WriteMessage(websocket.TextMessage, []byte(`{"partial":"almost"}`))
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemotePartialThenClose(t *testing.T) {
	srv := partialOnlyServer(t)
	r := newRig(t, voicePCM(0.5), func(c *Config, r *rig) {
		c.Remote = transcriber.NewStream(transcriber.StreamConfig{Addr: strings.TrimPrefix(srv.URL, "http://")})
		c.Policy = Policy{PreferRemote: func() bool { return true }, Reachable: func() bool { return true }}
	})
	r.record(t)

	snap := r.orch.Snapshot()
	if snap.State != Stopped {
		t.Fatalf("state = %v", snap.State)
	}
	if snap.Backend != "remote" || snap.Transcript != FailedText {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AudioPath == "" {
		t.Error("artifact missing")
	}
	if r.local.Calls() != 0 {
		t.Error("local backend ran")
	}
}
