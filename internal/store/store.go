package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/dshills/quill/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Errors returned by the store.
var (
	// ErrRejected is returned when a handler cancelled the change.
	ErrRejected = errors.New("note change rejected")

	// ErrNotFound is returned for unknown note paths.
	ErrNotFound = errors.New("note not found")
)

// Dispatcher routes events through handlers. *event.Reactor implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt event.Event) (event.Outcome, error)
}

// Note is a stored note.
type Note struct {
	Path      string
	Title     string
	Tags      []string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// notePayload is the event payload for note events.
type notePayload struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Tags        []string       `json:"tags"`
	Content     string         `json:"content,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

// Store is a SQLite-backed note store.
type Store struct {
	db         *sql.DB
	dispatcher Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "store").Logger()
	}
}

// Open opens or creates the database at path. Changes are dispatched
// through d.
func Open(path string, d Dispatcher, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:         db,
		dispatcher: d,
		logger:     log.Logger.With().Str("component", "store").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// notePath returns the key a note is stored under: slash separated and in
// Unicode NFC, so composed and decomposed spellings name the same note.
func notePath(p string) string {
	return norm.NFC.String(filepath.ToSlash(p))
}

// Put creates or replaces the note at path. The frontmatter of content
// supplies the initial title and tags.
func (s *Store) Put(ctx context.Context, path, content string) (Note, error) {
	path = notePath(path)
	fm, _, err := ParseFrontmatter([]byte(content))
	if err != nil {
		return Note{}, fmt.Errorf("put %s: %w", path, err)
	}

	existing, err := s.Get(ctx, path)
	created := errors.Is(err, ErrNotFound)
	if err != nil && !created {
		return Note{}, err
	}

	evtType := event.TypeNoteModified
	if created {
		evtType = event.TypeNoteCreated
	}
	orig := notePayload{
		Path:    path,
		Title:   fm.Title,
		Tags:    nonNil(fm.Tags),
		Content: content,
	}
	evt, err := event.New(evtType, path, orig)
	if err != nil {
		return Note{}, err
	}

	out, err := s.dispatch(ctx, evt)
	if err != nil {
		return Note{}, err
	}

	var p notePayload
	if err := out.Event.Decode(&p); err != nil {
		s.logger.Warn().Err(err).
			Str("path", path).
			Msg("handlers returned an invalid note payload; keeping original")
		p = orig
	}
	note := Note{
		Path:      path,
		Title:     p.Title,
		Tags:      nonNil(p.Tags),
		Content:   p.Content,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: s.now(),
	}
	if created {
		note.CreatedAt = note.UpdatedAt
	}

	if err := s.write(ctx, note); err != nil {
		return Note{}, err
	}
	s.parsed(ctx, note, fm)
	return note, nil
}

// Delete removes the note at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	path = notePath(path)
	note, err := s.Get(ctx, path)
	if err != nil {
		return err
	}

	evt, err := event.New(event.TypeNoteDeleted, path, notePayload{
		Path:  path,
		Title: note.Title,
		Tags:  note.Tags,
	})
	if err != nil {
		return err
	}
	if _, err := s.dispatch(ctx, evt); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Get returns the note at path.
func (s *Store) Get(ctx context.Context, path string) (Note, error) {
	path = notePath(path)
	row := s.db.QueryRowContext(ctx, `
		SELECT path, title, tags, content, created_at, updated_at
		FROM notes WHERE path = ?
	`, path)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Note{}, fmt.Errorf("get %s: %w", path, err)
	}
	return note, nil
}

// List returns all notes ordered by path.
func (s *Store) List(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, title, tags, content, created_at, updated_at
		FROM notes ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// dispatch runs evt through the handlers and maps a veto to ErrRejected.
func (s *Store) dispatch(ctx context.Context, evt event.Event) (event.Outcome, error) {
	out, err := s.dispatcher.Dispatch(ctx, evt)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", evt.Type(), evt.Identifier(), err)
	}
	if !out.Proceed() {
		s.logger.Info().
			Str("event", evt.Type()).
			Str("path", evt.Identifier()).
			Str("by", out.CancelledBy).
			Msg("note change rejected")
		return out, fmt.Errorf("%w: %s by %s", ErrRejected, evt.Identifier(), out.CancelledBy)
	}
	return out, nil
}

// parsed emits note:parsed. Its outcome does not affect the stored note.
func (s *Store) parsed(ctx context.Context, note Note, fm Frontmatter) {
	evt, err := event.New(event.TypeNoteParsed, note.Path, notePayload{
		Path:        note.Path,
		Title:       note.Title,
		Tags:        note.Tags,
		Frontmatter: fm.Extra,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("path", note.Path).Msg("build note:parsed event")
		return
	}
	if _, err := s.dispatcher.Dispatch(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("path", note.Path).Msg("dispatch note:parsed")
	}
}

func (s *Store) write(ctx context.Context, note Note) error {
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (path, title, tags, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			tags = excluded.tags,
			content = excluded.content,
			updated_at = excluded.updated_at
	`,
		note.Path,
		note.Title,
		string(tags),
		note.Content,
		note.CreatedAt.Format(time.RFC3339Nano),
		note.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", note.Path, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (Note, error) {
	var (
		note             Note
		tags             string
		created, updated string
	)
	if err := row.Scan(&note.Path, &note.Title, &tags, &note.Content, &created, &updated); err != nil {
		return Note{}, err
	}
	if err := json.Unmarshal([]byte(tags), &note.Tags); err != nil {
		return Note{}, fmt.Errorf("tags: %w", err)
	}
	var err error
	if note.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Note{}, fmt.Errorf("created_at: %w", err)
	}
	if note.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Note{}, fmt.Errorf("updated_at: %w", err)
	}
	note.Tags = nonNil(note.Tags)
	return note, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
