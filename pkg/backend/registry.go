package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/greyhawk/ocular/pkg/models"
)

// routeSnapshot is the immutable, request-time view of all routes,
// mirroring dlp.Store's snapshot-at-request-start discipline.
type routeSnapshot struct {
	routes []models.BackendRoute
}

// Registry is the Backend Registry: built-in claude/codex routes plus
// user-defined custom routes, resolved by longest path-prefix match.
type Registry struct {
	db   *sql.DB
	snap atomic.Pointer[routeSnapshot]
}

// NewRegistry opens a Backend Registry over db, seeding the two
// built-in routes on first run.
func NewRegistry(ctx context.Context, db *sql.DB) (*Registry, error) {
	r := &Registry{db: db}
	if err := r.seedIfEmpty(ctx); err != nil {
		return nil, err
	}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) seedIfEmpty(ctx context.Context) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM custom_backends`).Scan(&count); err != nil {
		return fmt.Errorf("count backends: %w", err)
	}
	if count > 0 {
		return nil
	}
	builtins := []models.BackendRoute{
		{
			Name: "claude", PathPrefix: "/claude", UpstreamBaseURL: ClaudeBaseURL,
			HeaderPolicy: models.HeaderPassThrough,
			Settings:     models.BackendSettings{DLPEnabled: true},
			Enabled:      true, Builtin: true,
		},
		{
			Name: "codex", PathPrefix: "/codex", UpstreamBaseURL: CodexBaseURL,
			HeaderPolicy: models.HeaderPassThrough,
			Settings:     models.BackendSettings{DLPEnabled: true},
			Enabled:      true, Builtin: true,
		},
	}
	for _, b := range builtins {
		if _, err := r.insert(ctx, b); err != nil {
			return fmt.Errorf("seed backend %q: %w", b.Name, err)
		}
	}
	return nil
}

// Snapshot returns the current route list for request-time resolution.
func (r *Registry) Snapshot() []models.BackendRoute {
	snap := r.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.routes
}

func (r *Registry) reload(ctx context.Context) error {
	routes, err := r.listFromDB(ctx)
	if err != nil {
		return err
	}
	r.snap.Store(&routeSnapshot{routes: routes})
	return nil
}

func (r *Registry) listFromDB(ctx context.Context) ([]models.BackendRoute, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, path_prefix, upstream_base_url, header_policy,
		       dlp_enabled, rate_limit_requests, rate_limit_minutes,
		       custom_headers, upstream_api_key, enabled, builtin
		FROM custom_backends ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer rows.Close()

	var out []models.BackendRoute
	for rows.Next() {
		var b models.BackendRoute
		var dlpEnabled, enabled, builtin int
		var headersJSON string
		if err := rows.Scan(&b.ID, &b.Name, &b.PathPrefix, &b.UpstreamBaseURL, &b.HeaderPolicy,
			&dlpEnabled, &b.Settings.RateLimitRequests, &b.Settings.RateLimitMinutes,
			&headersJSON, &b.Settings.UpstreamAPIKey, &enabled, &builtin); err != nil {
			return nil, fmt.Errorf("scan backend: %w", err)
		}
		b.Settings.DLPEnabled = dlpEnabled != 0
		b.Enabled = enabled != 0
		b.Builtin = builtin != 0
		_ = json.Unmarshal([]byte(headersJSON), &b.Settings.CustomHeaders)
		out = append(out, b)
	}
	return out, rows.Err()
}

// List returns every registered route (get_backends / get_custom_backends).
func (r *Registry) List(ctx context.Context) ([]models.BackendRoute, error) {
	return r.listFromDB(ctx)
}

// Resolve picks the route whose PathPrefix is the longest match for
// requestPath among enabled routes, and the remainder of the path
// after that prefix. Returns ok=false if nothing matches.
func Resolve(routes []models.BackendRoute, requestPath string) (route models.BackendRoute, remainder string, ok bool) {
	bestLen := -1
	for _, rt := range routes {
		if !rt.Enabled {
			continue
		}
		if rt.PathPrefix == "" || !strings.HasPrefix(requestPath, rt.PathPrefix) {
			continue
		}
		if len(rt.PathPrefix) > bestLen {
			bestLen = len(rt.PathPrefix)
			route = rt
			remainder = strings.TrimPrefix(requestPath, rt.PathPrefix)
			ok = true
		}
	}
	return route, remainder, ok
}

// Add registers a new custom backend (add_custom_backend).
func (r *Registry) Add(ctx context.Context, b models.BackendRoute) (int64, error) {
	id, err := r.insert(ctx, b)
	if err != nil {
		return 0, err
	}
	return id, r.reload(ctx)
}

func (r *Registry) insert(ctx context.Context, b models.BackendRoute) (int64, error) {
	headersJSON, _ := json.Marshal(b.Settings.CustomHeaders)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO custom_backends
			(name, path_prefix, upstream_base_url, header_policy, dlp_enabled,
			 rate_limit_requests, rate_limit_minutes, custom_headers,
			 upstream_api_key, enabled, builtin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Name, b.PathPrefix, b.UpstreamBaseURL, b.HeaderPolicy, boolToInt(b.Settings.DLPEnabled),
		b.Settings.RateLimitRequests, b.Settings.RateLimitMinutes, string(headersJSON),
		b.Settings.UpstreamAPIKey, boolToInt(b.Enabled), boolToInt(b.Builtin))
	if err != nil {
		return 0, fmt.Errorf("insert backend: %w", err)
	}
	return res.LastInsertId()
}

// Update replaces a custom backend's url/settings (update_custom_backend).
// A built-in route's name and path_prefix are never touched, even if b
// carries different values for them, since the proxy resolves "/claude"
// and "/codex" by prefix and always needs both to exist; everything
// else - upstream URL, header policy, DLP, rate limits, custom headers,
// upstream key - can be changed on a built-in the same as on a custom
// route, so a built-in can be pointed at a mirror or have DLP disabled
// without being deleted and recreated.
func (r *Registry) Update(ctx context.Context, b models.BackendRoute) error {
	headersJSON, _ := json.Marshal(b.Settings.CustomHeaders)
	_, err := r.db.ExecContext(ctx, `
		UPDATE custom_backends SET
			name = CASE WHEN builtin=0 THEN ? ELSE name END,
			path_prefix = CASE WHEN builtin=0 THEN ? ELSE path_prefix END,
			upstream_base_url=?, header_policy=?, dlp_enabled=?,
			rate_limit_requests=?, rate_limit_minutes=?,
			custom_headers=?, upstream_api_key=?
		WHERE id=?`,
		b.Name, b.PathPrefix, b.UpstreamBaseURL, b.HeaderPolicy, boolToInt(b.Settings.DLPEnabled),
		b.Settings.RateLimitRequests, b.Settings.RateLimitMinutes, string(headersJSON),
		b.Settings.UpstreamAPIKey, b.ID)
	if err != nil {
		return fmt.Errorf("update backend: %w", err)
	}
	return r.reload(ctx)
}

// SetEnabled toggles a route, built-in or custom (toggle_custom_backend).
func (r *Registry) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE custom_backends SET enabled=? WHERE id=?`,
		boolToInt(enabled), id); err != nil {
		return fmt.Errorf("set backend enabled: %w", err)
	}
	return r.reload(ctx)
}

// Delete removes a custom route. Built-in routes cannot be deleted,
// only disabled through SetEnabled.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM custom_backends WHERE id=? AND builtin=0`, id)
	if err != nil {
		return fmt.Errorf("delete backend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("backend %d is built-in or does not exist", id)
	}
	return r.reload(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
