// Package settings holds the user's persisted preferences.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"cobalt/log"
)

const (
	FileName      = "settings.toml"
	DefaultServer = "192.168.3.15:2700"
)

// Values is the on-disk shape of settings.toml.
type Values struct {
	PreferRemote bool   `toml:"prefer_remote"`
	Server       string `toml:"server"`
}

func Defaults() Values {
	return Values{Server: DefaultServer}
}

// Store is safe for concurrent use. Writes go straight to disk; Watch picks
// up edits made by other processes.
type Store struct {
	path   string
	logger zerolog.Logger

	mu   sync.RWMutex
	v    Values
	subs []chan Values
}

// Load reads path. A missing file yields the defaults without creating it.
func Load(path string) (*Store, error) {
	s := &Store{path: path, v: Defaults(), logger: log.Component("settings")}
	v, err := readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.v = v
	return s, nil
}

func readFile(path string) (Values, error) {
	v := Defaults()
	if _, err := toml.DecodeFile(path, &v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, err
		}
		return v, fmt.Errorf("parse %s: %w", path, err)
	}
	if v.Server == "" {
		v.Server = DefaultServer
	}
	return v, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Values() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *Store) PreferRemote() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.PreferRemote
}

func (s *Store) Server() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Server
}

func (s *Store) SetPreferRemote(on bool) error {
	return s.update(func(v *Values) { v.PreferRemote = on })
}

// TogglePreferRemote flips the preference and returns the new value.
func (s *Store) TogglePreferRemote() (bool, error) {
	var on bool
	err := s.update(func(v *Values) {
		v.PreferRemote = !v.PreferRemote
		on = v.PreferRemote
	})
	return on, err
}

func (s *Store) SetServer(addr string) error {
	return s.update(func(v *Values) { v.Server = addr })
}

func (s *Store) update(fn func(*Values)) error {
	s.mu.Lock()
	next := s.v
	fn(&next)
	if err := s.writeLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.v = next
	s.mu.Unlock()
	s.publish(next)
	return nil
}

// writeLocked replaces the file atomically so watchers never read a torn
// write.
func (s *Store) writeLocked(v Values) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Changes returns a channel that receives the new values after every change,
// local or external. Slow readers miss intermediate values.
func (s *Store) Changes() <-chan Values {
	ch := make(chan Values, 4)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) publish(v Values) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// reload rereads the file after an external edit. Parse errors keep the
// previous values.
func (s *Store) reload() {
	v, err := readFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Msg("reload settings")
		}
		return
	}
	s.mu.Lock()
	changed := v != s.v
	s.v = v
	s.mu.Unlock()
	if changed {
		s.logger.Info().Bool("prefer_remote", v.PreferRemote).Str("server", v.Server).Msg("settings reloaded")
		s.publish(v)
	}
}

// Watch reloads the file whenever it changes on disk until ctx is done. The
// directory is watched rather than the file so atomic replacements are seen.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					debounce = time.After(50 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("settings watcher")
			}
		}
	}()
	return nil
}
