package msgdb

import "testing"

func TestEnqueueOfflineOperationAssignsIDAndFolder(t *testing.T) {
	db := openTestDB(t)
	db.SetFolderID(7)

	op, err := db.EnqueueOfflineOperation(OfflineOperation{
		Kind:        OfflineOpMove,
		Keys:        []MessageKey{1, 2, 3},
		Destination: "Archive",
	})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	if op.ID == "" {
		t.Fatal("expected a generated operation id")
	}
	if op.FolderID != 7 {
		t.Fatalf("expected FolderID stamped from the DB, got %d", op.FolderID)
	}
}

func TestEnqueueOfflineOperationAssignsDistinctIDs(t *testing.T) {
	db := openTestDB(t)

	first, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpMove, Destination: "Archive"})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	second, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpMove, Destination: "Archive"})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected distinct operation ids")
	}
}

func TestOfflineOperationsReturnsInEnqueueOrder(t *testing.T) {
	db := openTestDB(t)

	a, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpMove, Keys: []MessageKey{1}, Destination: "Archive"})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	b, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpFlagChange, Keys: []MessageKey{2, 3}, Destination: ""})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}

	ops, err := db.OfflineOperations()
	if err != nil {
		t.Fatalf("OfflineOperations: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 queued operations, got %d", len(ops))
	}
	if ops[0].ID != a.ID || ops[1].ID != b.ID {
		t.Fatalf("expected enqueue order a,b; got %s,%s", ops[0].ID, ops[1].ID)
	}
	if len(ops[1].Keys) != 2 || ops[1].Keys[0] != 2 || ops[1].Keys[1] != 3 {
		t.Fatalf("expected keys [2 3] round-tripped, got %v", ops[1].Keys)
	}
}

func TestDequeueOfflineOperationRemovesOnlyThatOperation(t *testing.T) {
	db := openTestDB(t)

	a, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpMove, Destination: "Archive"})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	b, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpMove, Destination: "Archive"})
	if err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}

	if err := db.DequeueOfflineOperation(a.ID); err != nil {
		t.Fatalf("DequeueOfflineOperation: %v", err)
	}

	ops, err := db.OfflineOperations()
	if err != nil {
		t.Fatalf("OfflineOperations: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != b.ID {
		t.Fatalf("expected only operation b to remain, got %+v", ops)
	}
}

func TestDequeueOfflineOperationUnknownIDIsNoop(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.EnqueueOfflineOperation(OfflineOperation{Kind: OfflineOpMove, Destination: "Archive"}); err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	if err := db.DequeueOfflineOperation("does-not-exist"); err != nil {
		t.Fatalf("expected no error for unknown id, got %v", err)
	}
	ops, err := db.OfflineOperations()
	if err != nil {
		t.Fatalf("OfflineOperations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected the existing operation to survive, got %d", len(ops))
	}
}
