// Package rulestore persists user-authored field rules, custom snippets
// and recent field values in a single SQLite database. It backs the rules
// engine's Store and the suggestion engine's Store; both consult their
// in-memory caches at request time and write through here.
package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/formfill/dbopen"
	"github.com/hazyhaar/formfill/rules"
	"github.com/hazyhaar/formfill/suggest"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_rules (
	id          TEXT PRIMARY KEY,
	domain      TEXT NOT NULL,
	field       TEXT NOT NULL,
	selector    TEXT NOT NULL,
	confidence  REAL NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_rules_domain ON user_rules(domain);

CREATE TABLE IF NOT EXISTS snippets (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL,
	template    TEXT NOT NULL,
	variables   TEXT NOT NULL DEFAULT '[]',
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recent_values (
	field_key TEXT NOT NULL,
	value     TEXT NOT NULL,
	used_at   TEXT NOT NULL,
	PRIMARY KEY (field_key, value)
);
`

// maxRecentPerField mirrors the suggestion engine's in-memory cap.
const maxRecentPerField = 5

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var (
	_ rules.Store   = (*Store)(nil)
	_ suggest.Store = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("rulestore: %w", err)
	}
	return newStore(db, opts...), nil
}

// NewWithDB wraps an already-open database, applying the schema. The
// caller keeps ownership of db; Close is still safe to call.
func NewWithDB(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("rulestore: apply schema: %w", err)
	}
	return newStore(db, opts...), nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts or updates a user rule.
func (s *Store) Append(ctx context.Context, r rules.Rule) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO user_rules (id, domain, field, selector, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			field = excluded.field,
			selector = excluded.selector,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		r.ID, r.Domain, r.Field, r.Selector, r.Confidence,
		fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("rulestore: append rule: %w", err)
	}
	return nil
}

// Remove deletes a user rule by id and domain. The bool reports whether a
// row was actually deleted.
func (s *Store) Remove(ctx context.Context, ruleID, domain string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM user_rules WHERE id = ? AND domain = ?`, ruleID, domain)
	if err != nil {
		return false, fmt.Errorf("rulestore: remove rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rulestore: remove rule: %w", err)
	}
	return n > 0, nil
}

// LoadAll returns every persisted user rule, oldest first.
func (s *Store) LoadAll(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, field, selector, confidence, created_at, updated_at
		FROM user_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: load rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var created, updated string
		if err := rows.Scan(&r.ID, &r.Domain, &r.Field, &r.Selector, &r.Confidence, &created, &updated); err != nil {
			return nil, fmt.Errorf("rulestore: scan rule: %w", err)
		}
		r.UserOverride = true
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rulestore: load rules: %w", err)
	}
	return out, nil
}

// PutSnippet inserts or updates a user snippet.
func (s *Store) PutSnippet(ctx context.Context, sn suggest.Snippet) error {
	vars, err := json.Marshal(nonNil(sn.Variables))
	if err != nil {
		return fmt.Errorf("rulestore: marshal variables: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO snippets (id, name, category, template, variables, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			template = excluded.template,
			variables = excluded.variables,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		sn.ID, sn.Name, sn.Category, sn.Template, string(vars), sn.Description,
		fmtTime(sn.CreatedAt), fmtTime(sn.UpdatedAt))
	if err != nil {
		return fmt.Errorf("rulestore: put snippet: %w", err)
	}
	return nil
}

// DeleteSnippet removes a snippet by id.
func (s *Store) DeleteSnippet(ctx context.Context, id string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("rulestore: delete snippet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rulestore: delete snippet: %w", err)
	}
	return n > 0, nil
}

// LoadSnippets returns every persisted snippet, oldest first.
func (s *Store) LoadSnippets(ctx context.Context) ([]suggest.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, template, variables, description, created_at, updated_at
		FROM snippets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: load snippets: %w", err)
	}
	defer rows.Close()

	var out []suggest.Snippet
	for rows.Next() {
		var sn suggest.Snippet
		var vars, created, updated string
		if err := rows.Scan(&sn.ID, &sn.Name, &sn.Category, &sn.Template, &vars, &sn.Description, &created, &updated); err != nil {
			return nil, fmt.Errorf("rulestore: scan snippet: %w", err)
		}
		if err := json.Unmarshal([]byte(vars), &sn.Variables); err != nil {
			return nil, fmt.Errorf("rulestore: snippet %s variables: %w", sn.ID, err)
		}
		sn.CreatedAt = parseTime(created)
		sn.UpdatedAt = parseTime(updated)
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rulestore: load snippets: %w", err)
	}
	return out, nil
}

// SaveRecent upserts one recent value for a field key and prunes the key
// back to the newest five entries.
func (s *Store) SaveRecent(ctx context.Context, fieldKey, value string) error {
	now := fmtTime(time.Now().UTC())
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO recent_values (field_key, value, used_at) VALUES (?, ?, ?)
		ON CONFLICT(field_key, value) DO UPDATE SET used_at = excluded.used_at`,
		fieldKey, value, now)
	if err != nil {
		return fmt.Errorf("rulestore: save recent: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		DELETE FROM recent_values WHERE field_key = ? AND value NOT IN (
			SELECT value FROM recent_values
			WHERE field_key = ? ORDER BY used_at DESC, value LIMIT ?)`,
		fieldKey, fieldKey, maxRecentPerField)
	if err != nil {
		return fmt.Errorf("rulestore: prune recents: %w", err)
	}
	return nil
}

// LoadRecents returns all recent values keyed per field, newest first.
func (s *Store) LoadRecents(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_key, value FROM recent_values
		ORDER BY field_key, used_at DESC, value`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: load recents: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("rulestore: scan recent: %w", err)
		}
		out[key] = append(out[key], value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rulestore: load recents: %w", err)
	}
	return out, nil
}

func nonNil(vs []string) []string {
	if vs == nil {
		return []string{}
	}
	return vs
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
