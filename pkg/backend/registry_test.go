package backend

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/greyhawk/ocular/pkg/models"
	"github.com/greyhawk/ocular/pkg/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewRegistrySeedsBuiltins(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	routes := r.Snapshot()
	if len(routes) != 2 {
		t.Fatalf("expected 2 seeded builtin routes, got %d", len(routes))
	}
	names := map[string]bool{}
	for _, rt := range routes {
		names[rt.Name] = true
		if !rt.Builtin || !rt.Enabled {
			t.Fatalf("expected seeded route %q to be builtin and enabled", rt.Name)
		}
	}
	if !names["claude"] || !names["codex"] {
		t.Fatalf("expected claude and codex seeded routes, got %v", names)
	}
}

func TestResolveLongestPrefixWins(t *testing.T) {
	routes := []models.BackendRoute{
		{Name: "claude", PathPrefix: "/claude", Enabled: true},
		{Name: "claude-eu", PathPrefix: "/claude/eu", Enabled: true},
	}
	route, remainder, ok := Resolve(routes, "/claude/eu/v1/messages")
	if !ok {
		t.Fatalf("expected a match")
	}
	if route.Name != "claude-eu" {
		t.Fatalf("expected the longer prefix to win, got %q", route.Name)
	}
	if remainder != "/v1/messages" {
		t.Fatalf("unexpected remainder %q", remainder)
	}
}

func TestResolveSkipsDisabledRoutes(t *testing.T) {
	routes := []models.BackendRoute{
		{Name: "claude", PathPrefix: "/claude", Enabled: false},
	}
	_, _, ok := Resolve(routes, "/claude/v1/messages")
	if ok {
		t.Fatalf("expected disabled route to be skipped")
	}
}

func TestDeleteRefusesBuiltin(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	var claudeID int64
	for _, rt := range r.Snapshot() {
		if rt.Name == "claude" {
			claudeID = rt.ID
		}
	}
	if err := r.Delete(ctx, claudeID); err == nil {
		t.Fatalf("expected an error deleting a builtin route")
	}
}

func TestAddCustomBackendAndToggle(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	id, err := r.Add(ctx, models.BackendRoute{
		Name: "internal-llm", PathPrefix: "/internal", UpstreamBaseURL: "https://internal.example.com",
		HeaderPolicy: models.HeaderPassThrough, Enabled: true,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(r.Snapshot()) != 3 {
		t.Fatalf("expected 3 routes after adding a custom one, got %d", len(r.Snapshot()))
	}

	if err := r.SetEnabled(ctx, id, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	_, _, ok := Resolve(r.Snapshot(), "/internal/chat")
	if ok {
		t.Fatalf("expected disabled custom route to no longer resolve")
	}

	if err := r.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(r.Snapshot()) != 2 {
		t.Fatalf("expected 2 routes after deleting the custom one, got %d", len(r.Snapshot()))
	}
}

func TestUpdateBuiltinChangesSettingsNotIdentity(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	var claude models.BackendRoute
	for _, rt := range r.Snapshot() {
		if rt.Name == "claude" {
			claude = rt
		}
	}

	update := claude
	update.Name = "not-claude"
	update.PathPrefix = "/not-claude"
	update.UpstreamBaseURL = "https://claude-mirror.internal"
	update.Settings.DLPEnabled = false
	if err := r.Update(ctx, update); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got models.BackendRoute
	for _, rt := range r.Snapshot() {
		if rt.ID == claude.ID {
			got = rt
		}
	}
	if got.Name != "claude" || got.PathPrefix != "/claude" {
		t.Fatalf("expected builtin name/path_prefix to survive an update, got %q %q", got.Name, got.PathPrefix)
	}
	if got.UpstreamBaseURL != "https://claude-mirror.internal" {
		t.Fatalf("expected builtin upstream url to be updatable, got %q", got.UpstreamBaseURL)
	}
	if got.Settings.DLPEnabled {
		t.Fatalf("expected builtin DLP setting to be updatable")
	}
}
