package dlp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/greyhawk/ocular/pkg/models"
)

// snapshot is the immutable view of enabled, compiled patterns used
// for the duration of one request. The request path MUST take a
// snapshot at request start and use it for the whole request, per the
// read-mostly shared-resource requirement: mutations mid-request never
// affect an in-flight request.
type snapshot struct {
	patterns []*CompiledPattern
}

// Store is the Pattern Store: SQLite-backed persistence for built-in
// and custom DLP patterns, with a lock-free snapshot for the request
// path.
type Store struct {
	db   *sql.DB
	snap atomic.Pointer[snapshot]
}

// NewStore opens a Pattern Store over db, seeding the built-in groups
// on first run (when dlp_patterns is empty).
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.seedIfEmpty(ctx); err != nil {
		return nil, err
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) seedIfEmpty(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlp_patterns`).Scan(&count); err != nil {
		return fmt.Errorf("count patterns: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, p := range seedPatterns() {
		if _, err := s.insert(ctx, p); err != nil {
			return fmt.Errorf("seed pattern %q: %w", p.Name, err)
		}
	}
	return nil
}

// Snapshot returns the current compiled-pattern view, filtered to
// those both individually enabled and (for built-ins) whose group
// toggle is on.
func (s *Store) Snapshot() []*CompiledPattern {
	snap := s.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.patterns
}

// reload rebuilds the snapshot from the database. Called after any
// mutating operation.
func (s *Store) reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, body, enabled, negatives, negative_kind,
		       min_unique_chars, min_occurrences, context_window,
		       placeholder_prefix, action, builtin_group
		FROM dlp_patterns ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	groupEnabled := s.loadGroupToggles(ctx)

	var compiled []*CompiledPattern
	for rows.Next() {
		var p models.Pattern
		var negJSON string
		var enabled int
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Body, &enabled, &negJSON,
			&p.NegativeKind, &p.MinUniqueChars, &p.MinOccurrences, &p.ContextWindow,
			&p.PlaceholderPrefix, &p.Action, &p.BuiltinGroup); err != nil {
			return fmt.Errorf("scan pattern: %w", err)
		}
		p.Enabled = enabled != 0
		_ = json.Unmarshal([]byte(negJSON), &p.Negatives)

		if p.BuiltinGroup != "" && !groupEnabled[p.BuiltinGroup] {
			continue
		}
		if !p.Enabled {
			continue
		}
		cp, err := compilePattern(p)
		if err != nil {
			continue // corrupt stored pattern: skip rather than fail the whole snapshot
		}
		compiled = append(compiled, cp)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.snap.Store(&snapshot{patterns: compiled})
	return nil
}

func (s *Store) loadGroupToggles(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, g := range builtinGroupNames() {
		out[g] = true // every built-in group starts enabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key LIKE 'dlp_%_enabled'`)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		group := key[len("dlp_") : len(key)-len("_enabled")]
		out[group] = value == "1"
	}
	return out
}

// List returns every stored pattern, enabled or not, for get_dlp_settings.
func (s *Store) List(ctx context.Context) ([]models.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, body, enabled, negatives, negative_kind,
		       min_unique_chars, min_occurrences, context_window,
		       placeholder_prefix, action, builtin_group
		FROM dlp_patterns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []models.Pattern
	for rows.Next() {
		var p models.Pattern
		var negJSON string
		var enabled int
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Body, &enabled, &negJSON,
			&p.NegativeKind, &p.MinUniqueChars, &p.MinOccurrences, &p.ContextWindow,
			&p.PlaceholderPrefix, &p.Action, &p.BuiltinGroup); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Enabled = enabled != 0
		_ = json.Unmarshal([]byte(negJSON), &p.Negatives)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Add inserts a new user-defined pattern. Returns PatternSyntaxError
// (with no state change) if the body or a negative fails to compile.
func (s *Store) Add(ctx context.Context, p models.Pattern) (int64, error) {
	p.Defaults()
	if _, err := compilePattern(p); err != nil {
		return 0, err
	}
	id, err := s.insert(ctx, p)
	if err != nil {
		return 0, err
	}
	return id, s.reload(ctx)
}

func (s *Store) insert(ctx context.Context, p models.Pattern) (int64, error) {
	negJSON, _ := json.Marshal(p.Negatives)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dlp_patterns
			(name, kind, body, enabled, negatives, negative_kind,
			 min_unique_chars, min_occurrences, context_window,
			 placeholder_prefix, action, builtin_group)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Kind, p.Body, boolToInt(p.Enabled), string(negJSON), p.NegativeKind,
		p.MinUniqueChars, p.MinOccurrences, p.ContextWindow,
		p.PlaceholderPrefix, p.Action, p.BuiltinGroup)
	if err != nil {
		return 0, fmt.Errorf("insert pattern: %w", err)
	}
	return res.LastInsertId()
}

// Update replaces a pattern's body/negatives/tunables, validating the
// new body before touching the row.
func (s *Store) Update(ctx context.Context, p models.Pattern) error {
	p.Defaults()
	if _, err := compilePattern(p); err != nil {
		return err
	}
	negJSON, _ := json.Marshal(p.Negatives)
	_, err := s.db.ExecContext(ctx, `
		UPDATE dlp_patterns SET name=?, kind=?, body=?, negatives=?, negative_kind=?,
			min_unique_chars=?, min_occurrences=?, context_window=?,
			placeholder_prefix=?, action=?
		WHERE id=?`,
		p.Name, p.Kind, p.Body, string(negJSON), p.NegativeKind,
		p.MinUniqueChars, p.MinOccurrences, p.ContextWindow,
		p.PlaceholderPrefix, p.Action, p.ID)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	return s.reload(ctx)
}

// SetEnabled toggles a single pattern by id (toggle_dlp_pattern).
func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE dlp_patterns SET enabled=? WHERE id=?`,
		boolToInt(enabled), id); err != nil {
		return fmt.Errorf("set pattern enabled: %w", err)
	}
	return s.reload(ctx)
}

// Delete removes a user-defined pattern (delete_dlp_pattern).
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dlp_patterns WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	return s.reload(ctx)
}

// SetBuiltinGroup toggles an entire built-in vendor group
// (set_dlp_builtin) via a `dlp_<key>_enabled` row in the settings table.
func (s *Store) SetBuiltinGroup(ctx context.Context, group string, enabled bool) error {
	key := "dlp_" + group + "_enabled"
	value := "0"
	if enabled {
		value = "1"
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value); err != nil {
		return fmt.Errorf("set builtin group: %w", err)
	}
	return s.reload(ctx)
}

// BuiltinGroups lists the known vendor toggle groups and their current
// enabled state, for get_dlp_settings.
func (s *Store) BuiltinGroups(ctx context.Context) map[string]bool {
	return s.loadGroupToggles(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
