// Package notes persists saved voice notes in SQLite.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"cobalt/log"
)

var ErrNotFound = errors.New("note not found")

// Note is one saved recording. AudioPath is empty once the audio file has
// been removed.
type Note struct {
	ID         string
	Title      string
	CreatedAt  time.Time
	AudioPath  string
	Transcript string
}

type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

type Change struct {
	Kind ChangeKind
	IDs  []string
}

const schema = `
CREATE TABLE IF NOT EXISTS voice_notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	audio_path TEXT,
	transcript TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS voice_notes_created ON voice_notes(created_at);
`

const noteColumns = `id, title, created_at, audio_path, transcript`

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	mu   sync.Mutex
	subs []chan Change
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: log.Component("notes")}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Changes returns a channel of change notifications. Slow readers miss
// notifications rather than block writers. The channel closes with the store.
func (s *Store) Changes() <-chan Change {
	ch := make(chan Change, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notify(kind ChangeKind, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- Change{Kind: kind, IDs: ids}:
		default:
		}
	}
}

// Insert stores n, replacing any note with the same ID. An empty ID is
// filled with a new time-ordered one; a zero CreatedAt with the current time.
func (s *Store) Insert(ctx context.Context, n *Note) error {
	if n.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("note id: %w", err)
		}
		n.ID = id.String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO voice_notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`, n.ID, n.Title, n.CreatedAt.UnixMilli(), nullString(n.AudioPath), n.Transcript)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	s.logger.Info().Str("id", n.ID).Str("title", n.Title).Msg("note inserted")
	s.notify(Inserted, n.ID)
	return nil
}

func (s *Store) Update(ctx context.Context, n *Note) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE voice_notes SET title = ?, created_at = ?, audio_path = ?, transcript = ?
		WHERE id = ?
	`, n.Title, n.CreatedAt.UnixMilli(), nullString(n.AudioPath), n.Transcript, n.ID)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, n.ID)
	}
	s.notify(Updated, n.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM voice_notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// All returns every note, newest first.
func (s *Store) All(ctx context.Context) ([]Note, error) {
	return s.query(ctx, `SELECT `+noteColumns+` FROM voice_notes ORDER BY created_at DESC`)
}

// ByDateRange returns notes created in [start, end), newest first.
func (s *Store) ByDateRange(ctx context.Context, start, end time.Time) ([]Note, error) {
	return s.query(ctx, `
		SELECT `+noteColumns+` FROM voice_notes
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
	`, start.UnixMilli(), end.UnixMilli())
}

// ForDay returns the notes of the local calendar day containing t.
func (s *Store) ForDay(ctx context.Context, t time.Time) ([]Note, error) {
	start := StartOfDay(t)
	return s.ByDateRange(ctx, start, start.AddDate(0, 0, 1))
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Search matches q as a literal substring of the title or transcript.
func (s *Store) Search(ctx context.Context, q string) ([]Note, error) {
	pattern := "%" + escapeLike(q) + "%"
	return s.query(ctx, `
		SELECT `+noteColumns+` FROM voice_notes
		WHERE title LIKE ? ESCAPE '\' OR transcript LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
	`, pattern, pattern)
}

func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

// DeleteByID removes the note and its audio file.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	return s.DeleteByIDs(ctx, []string{id})
}

// DeleteByIDs removes the notes and their audio files. Unknown IDs are
// ignored.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, audio_path FROM voice_notes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("query notes: %w", err)
	}
	var found []string
	var paths []string
	for rows.Next() {
		var id string
		var path sql.NullString
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return fmt.Errorf("scan note: %w", err)
		}
		found = append(found, id)
		if path.Valid && path.String != "" {
			paths = append(paths, path.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM voice_notes WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete notes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", p).Msg("remove note audio")
		}
	}
	if len(found) > 0 {
		s.logger.Info().Strs("ids", found).Msg("notes deleted")
		s.notify(Deleted, found...)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(sc scanner) (*Note, error) {
	var n Note
	var created int64
	var audio sql.NullString
	if err := sc.Scan(&n.ID, &n.Title, &created, &audio, &n.Transcript); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan note: %w", err)
	}
	n.CreatedAt = time.UnixMilli(created)
	if audio.Valid {
		n.AudioPath = audio.String
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
