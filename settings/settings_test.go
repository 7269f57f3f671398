package settings

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.PreferRemote() {
		t.Error("PreferRemote should default to false")
	}
	if s.Server() != DefaultServer {
		t.Errorf("Server = %q", s.Server())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Load created the file")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, []byte("prefer_remote = true\nserver = \"10.0.0.2:2700\"\n"), 0o644)
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !s.PreferRemote() || s.Server() != "10.0.0.2:2700" {
		t.Errorf("values = %+v", s.Values())
	}
}

func TestLoadEmptyServerFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, []byte("prefer_remote = true\n"), 0o644)
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Server() != DefaultServer {
		t.Errorf("Server = %q", s.Server())
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, []byte("prefer_remote = maybe"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("want parse error")
	}
}

func TestTogglePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	s, _ := Load(path)
	ch := s.Changes()

	on, err := s.TogglePreferRemote()
	if err != nil {
		t.Fatal(err)
	}
	if !on || !s.PreferRemote() {
		t.Error("toggle did not enable")
	}
	select {
	case v := <-ch:
		if !v.PreferRemote {
			t.Errorf("change = %+v", v)
		}
	default:
		t.Error("no change published")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "prefer_remote = true") {
		t.Errorf("file = %q", data)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.PreferRemote() {
		t.Error("preference not persisted")
	}

	if err := s.SetPreferRemote(false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetServer("example:1"); err != nil {
		t.Fatal(err)
	}
	reloaded, _ = Load(path)
	if reloaded.PreferRemote() || reloaded.Server() != "example:1" {
		t.Errorf("values = %+v", reloaded.Values())
	}
}

func TestWatchPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, _ := Load(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Changes()
	if err := s.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("prefer_remote = true\nserver = \"h:1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-ch:
		if !v.PreferRemote || v.Server != "h:1" {
			t.Errorf("reloaded = %+v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("external edit not picked up")
	}
	if !s.PreferRemote() {
		t.Error("store not updated")
	}
}

func TestWatchKeepsValuesOnBadEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, _ := Load(path)
	s.SetPreferRemote(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(path, []byte("garbage = = ="), 0o644)
	time.Sleep(300 * time.Millisecond)
	if !s.PreferRemote() {
		t.Error("bad edit clobbered settings")
	}
}

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

func TestNetworkChecker(t *testing.T) {
	up := net.Interface{Name: "wlan0", Flags: net.FlagUp}
	down := net.Interface{Name: "eth0"}
	lo := net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}

	addrs := map[string][]net.Addr{
		"wlan0": {&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)}},
		"eth0":  {&net.IPNet{IP: net.ParseIP("10.0.0.5"), Mask: net.CIDRMask(8, 32)}},
		"lo":    {&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}},
		"ll":    {&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}, fakeAddr{}},
	}
	lookup := func(i net.Interface) ([]net.Addr, error) { return addrs[i.Name], nil }

	tests := []struct {
		name   string
		ifaces []net.Interface
		err    error
		want   bool
	}{
		{"wifi up", []net.Interface{lo, up}, nil, true},
		{"only loopback", []net.Interface{lo}, nil, false},
		{"interface down", []net.Interface{lo, down}, nil, false},
		{"link-local only", []net.Interface{{Name: "ll", Flags: net.FlagUp}}, nil, false},
		{"listing fails", nil, errors.New("no netlink"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NetworkChecker{
				Interfaces: func() ([]net.Interface, error) { return tt.ifaces, tt.err },
				Addrs:      lookup,
			}
			if got := c.Reachable(); got != tt.want {
				t.Errorf("Reachable = %v, want %v", got, tt.want)
			}
		})
	}
}
