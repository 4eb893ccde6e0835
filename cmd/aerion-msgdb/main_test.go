package main

import (
	"testing"

	"github.com/hkdb/aerion/internal/config"
	"github.com/hkdb/aerion/internal/dbservice"
	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/hkdb/aerion/internal/registry"
)

func TestRetentionDefaultsMapsMode(t *testing.T) {
	cases := map[string]msgdb.RetentionMode{
		"all":      msgdb.RetentionAll,
		"by_age":   msgdb.RetentionByAge,
		"by_count": msgdb.RetentionByCount,
		"":         msgdb.RetentionAll,
	}
	for mode, want := range cases {
		got := retentionDefaults(config.RetentionConfig{Mode: mode, DaysToKeepBodies: 7, ApplyToFlagged: true})
		if got.Mode != want {
			t.Fatalf("mode %q: expected %v, got %v", mode, want, got.Mode)
		}
		if got.DaysToKeepBodies != 7 || !got.ApplyToFlagged {
			t.Fatalf("mode %q: expected settings to carry through, got %+v", mode, got)
		}
	}
}

func TestFolderScopesSkipsUnopenedFolders(t *testing.T) {
	dbs := dbservice.New(t.TempDir())
	if _, err := dbs.Open(1, "Inbox", true); err != nil {
		t.Fatalf("Open: %v", err)
	}

	byID := map[int64]*registry.Folder{
		1: {ID: 1, Name: "Inbox"},
		2: {ID: 2, Name: "Sent"},
	}

	scopes := folderScopes(byID, dbs, retentionDefaults(config.RetentionConfig{Mode: "all"}))
	if len(scopes) != 1 {
		t.Fatalf("expected exactly one scope for the opened folder, got %d", len(scopes))
	}
	if scopes[0].FolderID != 1 {
		t.Fatalf("expected folder 1's scope, got %d", scopes[0].FolderID)
	}
}

func TestWalkFoldersVisitsEntireSubtree(t *testing.T) {
	root := &registry.Folder{
		ID:   1,
		Name: "account",
		Children: []*registry.Folder{
			{ID: 2, Name: "Inbox"},
			{ID: 3, Name: "Archive", Children: []*registry.Folder{
				{ID: 4, Name: "2024"},
			}},
		},
	}

	var visited []int64
	walkFolders(root, func(f *registry.Folder) {
		visited = append(visited, f.ID)
	})

	if len(visited) != 4 {
		t.Fatalf("expected 4 folders visited, got %d: %v", len(visited), visited)
	}
}
