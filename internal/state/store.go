// Package state persists the agent's reply drafts and desk preferences in a
// local SQLite file. Writes are debounced so typing does not hit the disk on
// every keystroke.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDebounce = 500 * time.Millisecond

	prefShowArchived = "show_archived"
	prefStatusFilter = "status_filter"
)

// Draft is an unsent reply for one ticket.
type Draft struct {
	TicketID  string    `json:"ticket_id"`
	Body      string    `json:"body"`
	Images    []string  `json:"images,omitempty"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether the draft carries nothing worth keeping.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Body) == "" && len(d.Images) == 0 && d.ReplyToID == ""
}

// Preferences are per-agent desk settings.
type Preferences struct {
	ShowArchived bool   `json:"show_archived"`
	StatusFilter string `json:"status_filter,omitempty"`
}

// Store caches drafts and preferences in memory and flushes them to SQLite.
type Store struct {
	db *sql.DB

	mu         sync.Mutex
	drafts     map[string]Draft
	pending    map[string]bool // ticket id -> needs write (absent from drafts = delete)
	prefs      Preferences
	prefsDirty bool
	timer      *time.Timer
	debounce   time.Duration
	closed     bool
}

// Open opens (creating if needed) the store at path. ":memory:" keeps
// everything in process.
func Open(ctx context.Context, path string, debounce time.Duration) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path is required")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	s := &Store{
		db:       db,
		drafts:   make(map[string]Draft),
		pending:  make(map[string]bool),
		debounce: debounce,
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			ticket_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			images TEXT NOT NULL DEFAULT '[]',
			reply_to_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize state schema: %w", err)
		}
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ticket_id, body, images, reply_to_id, updated_at FROM drafts`)
	if err != nil {
		return fmt.Errorf("failed to load drafts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d         Draft
			images    string
			updatedAt string
		)
		if err := rows.Scan(&d.TicketID, &d.Body, &images, &d.ReplyToID, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan draft: %w", err)
		}
		if images != "" {
			if err := json.Unmarshal([]byte(images), &d.Images); err != nil {
				return fmt.Errorf("draft %s has corrupt images: %w", d.TicketID, err)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			d.UpdatedAt = ts
		}
		s.drafts[d.TicketID] = d
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load drafts: %w", err)
	}

	prefRows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	defer prefRows.Close()
	for prefRows.Next() {
		var key, value string
		if err := prefRows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to scan preference: %w", err)
		}
		switch key {
		case prefShowArchived:
			s.prefs.ShowArchived = value == "1"
		case prefStatusFilter:
			s.prefs.StatusFilter = value
		}
	}
	return prefRows.Err()
}

// Draft returns the saved draft for a ticket.
func (s *Store) Draft(ticketID string) (Draft, bool) {
	if s == nil {
		return Draft{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[strings.TrimSpace(ticketID)]
	if !ok {
		return Draft{}, false
	}
	d.Images = append([]string(nil), d.Images...)
	return d, true
}

// SetDraft records a draft. Empty drafts delete the saved one.
func (s *Store) SetDraft(d Draft) {
	if s == nil {
		return
	}
	d.TicketID = strings.TrimSpace(d.TicketID)
	if d.TicketID == "" {
		return
	}
	if d.Empty() {
		s.DeleteDraft(d.TicketID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	d.Images = append([]string(nil), d.Images...)
	s.drafts[d.TicketID] = d
	s.pending[d.TicketID] = true
	s.markDirtyLocked()
}

// DeleteDraft forgets a ticket's draft, typically after a successful send.
func (s *Store) DeleteDraft(ticketID string) {
	if s == nil {
		return
	}
	ticketID = strings.TrimSpace(ticketID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[ticketID]; !ok {
		return
	}
	delete(s.drafts, ticketID)
	s.pending[ticketID] = true
	s.markDirtyLocked()
}

// Preferences returns the current preferences.
func (s *Store) Preferences() Preferences {
	if s == nil {
		return Preferences{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// SetPreferences replaces the preferences.
func (s *Store) SetPreferences(p Preferences) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == p {
		return
	}
	s.prefs = p
	s.prefsDirty = true
	s.markDirtyLocked()
}

func (s *Store) markDirtyLocked() {
	if s.closed {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, func() {
			_ = s.SaveNow(context.Background())
		})
		return
	}
	s.timer.Reset(s.debounce)
}

// SaveNow flushes pending changes in one transaction.
func (s *Store) SaveNow(ctx context.Context) error {
	s.mu.Lock()
	writes := make(map[string]*Draft, len(s.pending))
	for id := range s.pending {
		if d, ok := s.drafts[id]; ok {
			writes[id] = &d
		} else {
			writes[id] = nil
		}
	}
	prefs, prefsDirty := s.prefs, s.prefsDirty
	s.pending = make(map[string]bool)
	s.prefsDirty = false
	s.mu.Unlock()

	if len(writes) == 0 && !prefsDirty {
		return nil
	}

	if err := s.write(ctx, writes, prefs, prefsDirty); err != nil {
		s.mu.Lock()
		for id := range writes {
			s.pending[id] = true
		}
		s.prefsDirty = s.prefsDirty || prefsDirty
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, writes map[string]*Draft, prefs Preferences, prefsDirty bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for id, d := range writes {
		if d == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE ticket_id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete draft %s: %w", id, err)
			}
			continue
		}
		images, err := json.Marshal(nonNil(d.Images))
		if err != nil {
			return fmt.Errorf("failed to encode draft images: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drafts (ticket_id, body, images, reply_to_id, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(ticket_id) DO UPDATE SET
				body = excluded.body,
				images = excluded.images,
				reply_to_id = excluded.reply_to_id,
				updated_at = excluded.updated_at
		`, id, d.Body, string(images), d.ReplyToID, d.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to save draft %s: %w", id, err)
		}
	}

	if prefsDirty {
		values := map[string]string{
			prefShowArchived: boolToString(prefs.ShowArchived),
			prefStatusFilter: prefs.StatusFilter,
		}
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO preferences (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, key, value); err != nil {
				return fmt.Errorf("failed to save preference %s: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state write: %w", err)
	}
	return nil
}

// Close stops the debounce timer, flushes pending changes and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	saveErr := s.SaveNow(context.Background())
	closeErr := s.db.Close()
	return errors.Join(saveErr, closeErr)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func boolToString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
