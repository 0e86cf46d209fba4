package dlp

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

func TestNewStoreSeedsBuiltins(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	patterns, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(patterns) != len(builtinGroups) {
		t.Fatalf("expected %d seeded patterns, got %d", len(builtinGroups), len(patterns))
	}
	if len(s.Snapshot()) != len(builtinGroups) {
		t.Fatalf("expected snapshot to contain all seeded patterns")
	}
}

func TestSetBuiltinGroupDisablesSnapshotOnly(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	before := len(s.Snapshot())

	if err := s.SetBuiltinGroup(ctx, "openai", false); err != nil {
		t.Fatalf("SetBuiltinGroup: %v", err)
	}
	after := len(s.Snapshot())
	if after >= before {
		t.Fatalf("expected snapshot to shrink after disabling openai group: before=%d after=%d", before, after)
	}

	patterns, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(patterns) != before {
		t.Fatalf("expected List to still report every stored pattern regardless of group toggle")
	}
}

func TestAddRejectsInvalidPattern(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = s.Add(ctx, models.Pattern{Name: "bad", Kind: models.KindRegex, Body: "(unterminated", Enabled: true})
	if err == nil {
		t.Fatalf("expected an error for an invalid regex body")
	}
}

func TestAddAndToggleCustomPattern(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, openTestDB(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	before := len(s.Snapshot())

	id, err := s.Add(ctx, models.Pattern{Name: "internal token", Kind: models.KindRegex, Body: `TOK-[0-9]{6}`, Enabled: true})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(s.Snapshot()) != before+1 {
		t.Fatalf("expected snapshot to grow by 1 after Add")
	}

	if err := s.SetEnabled(ctx, id, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if len(s.Snapshot()) != before {
		t.Fatalf("expected snapshot to shrink back after disabling the new pattern")
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	patterns, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(patterns) != before {
		t.Fatalf("expected pattern to be gone after Delete")
	}
}
