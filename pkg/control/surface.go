// Package control implements the Control Surface: the command-level
// operations a front end (CLI, desktop shell) uses to read and write
// settings, patterns, backends, and logs. Every operation takes plain
// arguments and returns either a value or an error, so it maps onto
// any IPC transport without change.
package control

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/greyhawk/ocular/pkg/backend"
	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/logstore"
	"github.com/greyhawk/ocular/pkg/models"
)

// Surface wires the Pattern Store, Backend Registry, and Request Log
// Store behind the command set the shell calls. restartProxy is the
// Proxy Server's own listener teardown/rebind, injected by the caller
// so this package never imports pkg/proxy directly.
type Surface struct {
	db       *sql.DB
	patterns *dlp.Store
	backends *backend.Registry
	logs     *logstore.Store
	restart  func(ctx context.Context, port int) error
}

// New creates a Control Surface over already-opened stores. restart is
// called by RestartProxy to tear down and re-bind the listener; it may
// be nil if the caller never invokes RestartProxy (e.g. a read-only CLI).
func New(db *sql.DB, patterns *dlp.Store, backends *backend.Registry, logs *logstore.Store, restart func(ctx context.Context, port int) error) *Surface {
	return &Surface{db: db, patterns: patterns, backends: backends, logs: logs, restart: restart}
}

// GetMessageLogs implements get_message_logs(time_range, backend).
func (s *Surface) GetMessageLogs(ctx context.Context, r models.DetectionStatsRange, backendName string) ([]models.RequestLogRecord, error) {
	opts := models.LogQueryOpts{
		Backend: backendName,
		Since:   r.Since(time.Now()),
	}
	return s.logs.Query(ctx, opts)
}

// GetDLPDetectionStats is a supplemental read alongside get_message_logs,
// aggregating dlp_detections for a lookback window.
func (s *Surface) GetDLPDetectionStats(ctx context.Context, r models.DetectionStatsRange) (models.DetectionStats, error) {
	return s.logs.DetectionStats(ctx, r, time.Now())
}

// GetBackends implements get_backends: every registered route,
// built-in and custom.
func (s *Surface) GetBackends(ctx context.Context) ([]models.BackendRoute, error) {
	return s.backends.List(ctx)
}

// GetCustomBackends implements get_custom_backends: registered routes
// excluding the built-in claude/codex pair.
func (s *Surface) GetCustomBackends(ctx context.Context) ([]models.BackendRoute, error) {
	all, err := s.backends.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.BackendRoute, 0, len(all))
	for _, r := range all {
		if !r.Builtin {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddCustomBackend implements add_custom_backend(name, base_url, settings).
func (s *Surface) AddCustomBackend(ctx context.Context, name, baseURL string, settings models.BackendSettings) (int64, error) {
	return s.backends.Add(ctx, models.BackendRoute{
		Name: name, PathPrefix: "/" + name, UpstreamBaseURL: baseURL,
		HeaderPolicy: models.HeaderPassThrough, Settings: settings, Enabled: true,
	})
}

// UpdateCustomBackend implements
// update_custom_backend(id, name, base_url, settings).
func (s *Surface) UpdateCustomBackend(ctx context.Context, id int64, name, baseURL string, settings models.BackendSettings) error {
	return s.backends.Update(ctx, models.BackendRoute{
		ID: id, Name: name, PathPrefix: "/" + name, UpstreamBaseURL: baseURL,
		HeaderPolicy: models.HeaderPassThrough, Settings: settings,
	})
}

// ToggleCustomBackend implements toggle_custom_backend(id, enabled).
// It also accepts built-in route ids, since those can be disabled
// (never deleted) through the same command.
func (s *Surface) ToggleCustomBackend(ctx context.Context, id int64, enabled bool) error {
	return s.backends.SetEnabled(ctx, id, enabled)
}

// DeleteCustomBackend implements delete_custom_backend(id). Deleting a
// built-in route's id returns an error; use ToggleCustomBackend instead.
func (s *Surface) DeleteCustomBackend(ctx context.Context, id int64) error {
	return s.backends.Delete(ctx, id)
}

// GetDLPSettings implements get_dlp_settings: every pattern plus the
// current built-in group toggle state.
func (s *Surface) GetDLPSettings(ctx context.Context) ([]models.Pattern, map[string]bool, error) {
	patterns, err := s.patterns.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	return patterns, s.patterns.BuiltinGroups(ctx), nil
}

// SetDLPBuiltin implements set_dlp_builtin(key, enabled).
func (s *Surface) SetDLPBuiltin(ctx context.Context, group string, enabled bool) error {
	return s.patterns.SetBuiltinGroup(ctx, group, enabled)
}

// AddDLPPattern implements add_dlp_pattern(name, pattern_type, patterns).
// patternType selects keyword vs regex matching; negatives is an
// optional list of exclusion patterns in the same syntax.
func (s *Surface) AddDLPPattern(ctx context.Context, name string, patternType models.PatternKind, body string, negatives []string, action models.PatternAction) (int64, error) {
	return s.patterns.Add(ctx, models.Pattern{
		Name: name, Kind: patternType, Body: body, Negatives: negatives,
		Action: action, Enabled: true,
	})
}

// ToggleDLPPattern implements toggle_dlp_pattern(id, enabled).
func (s *Surface) ToggleDLPPattern(ctx context.Context, id int64, enabled bool) error {
	return s.patterns.SetEnabled(ctx, id, enabled)
}

// DeleteDLPPattern implements delete_dlp_pattern(id).
func (s *Surface) DeleteDLPPattern(ctx context.Context, id int64) error {
	return s.patterns.Delete(ctx, id)
}

// GetPortSetting implements get_port_setting, reading the persisted
// "port" row from the settings table, or the given fallback if unset.
func (s *Surface) GetPortSetting(ctx context.Context, fallback int) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'port'`).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read port setting: %w", err)
	}
	var port int
	if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
		return 0, fmt.Errorf("parse stored port %q: %w", value, err)
	}
	return port, nil
}

// SavePortSetting implements save_port_setting(port). It only persists
// the value; RestartProxy must be called separately to apply it, per
// the documented restart semantics.
func (s *Surface) SavePortSetting(ctx context.Context, port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("port %d out of allowed range 1024-65535", port)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('port', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, fmt.Sprintf("%d", port))
	if err != nil {
		return fmt.Errorf("save port setting: %w", err)
	}
	return nil
}

// CleanupLogs forces an out-of-cycle retention sweep, deleting request
// log entries older than logstore.RetentionWindow. The Request Log
// Store already does this on an hourly timer; this exposes the same
// operation for callers that don't want to wait.
func (s *Surface) CleanupLogs(ctx context.Context) (int64, error) {
	return s.logs.Cleanup(ctx)
}

// RestartProxy implements restart_proxy: tears down the listener
// (draining in-flight requests up to a 5s deadline) and re-binds on
// the currently saved port. The actual teardown/rebind is delegated to
// the function supplied at construction time.
func (s *Surface) RestartProxy(ctx context.Context) error {
	if s.restart == nil {
		return fmt.Errorf("restart_proxy: no running proxy to restart")
	}
	port, err := s.GetPortSetting(ctx, 8008)
	if err != nil {
		return err
	}
	return s.restart(ctx, port)
}
