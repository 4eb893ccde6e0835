package retention

import (
	"context"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/hkdb/aerion/internal/msgdb"
)

type fakeImapMoveService struct {
	calls map[string]imap.UIDSet
}

func (f *fakeImapMoveService) CopyMessages(ctx context.Context, uids imap.UIDSet, destMailbox string) error {
	if f.calls == nil {
		f.calls = make(map[string]imap.UIDSet)
	}
	f.calls[destMailbox] = uids
	return nil
}

func addHeaderWithStoreToken(t *testing.T, db *msgdb.DB, subject, storeToken string, date int64) *msgdb.Header {
	t.Helper()
	h, err := db.CreateMsgHdr(nil)
	if err != nil {
		t.Fatalf("CreateMsgHdr: %v", err)
	}
	h.Subject = subject
	h.Date = date
	h.StoreToken = storeToken
	if err := db.AddNewHdrToDB(h, true); err != nil {
		t.Fatalf("AddNewHdrToDB: %v", err)
	}
	return h
}

func TestCoalesceMovesGroupsByDestination(t *testing.T) {
	db := openTestDB(t)
	a := addHeaderWithStoreToken(t, db, "one", "101", 1)
	b := addHeaderWithStoreToken(t, db, "two", "102", 2)
	c := addHeaderWithStoreToken(t, db, "three", "201", 3)

	if _, err := db.EnqueueOfflineOperation(msgdb.OfflineOperation{
		Kind: msgdb.OfflineOpMove, Keys: []msgdb.MessageKey{a.Key, b.Key}, Destination: "Archive",
	}); err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}
	if _, err := db.EnqueueOfflineOperation(msgdb.OfflineOperation{
		Kind: msgdb.OfflineOpMove, Keys: []msgdb.MessageKey{c.Key}, Destination: "Trash",
	}); err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}

	svc := &fakeImapMoveService{}
	if err := CoalesceMoves(context.Background(), db, svc); err != nil {
		t.Fatalf("CoalesceMoves: %v", err)
	}

	archive, ok := svc.calls["Archive"]
	if !ok {
		t.Fatal("expected a CopyMessages call for Archive")
	}
	if !archive.Contains(imap.UID(101)) || !archive.Contains(imap.UID(102)) {
		t.Fatalf("expected Archive batch to contain both uids, got %v", archive)
	}

	trash, ok := svc.calls["Trash"]
	if !ok {
		t.Fatal("expected a CopyMessages call for Trash")
	}
	if !trash.Contains(imap.UID(201)) {
		t.Fatalf("expected Trash batch to contain uid 201, got %v", trash)
	}

	remaining, err := db.OfflineOperations()
	if err != nil {
		t.Fatalf("OfflineOperations: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected replayed operations to be dequeued, got %d remaining", len(remaining))
	}
}

func TestCoalesceMovesIgnoresNonMoveOperations(t *testing.T) {
	db := openTestDB(t)
	a := addHeaderWithStoreToken(t, db, "one", "1", 1)

	if _, err := db.EnqueueOfflineOperation(msgdb.OfflineOperation{
		Kind: msgdb.OfflineOpFlagChange, Keys: []msgdb.MessageKey{a.Key}, Destination: "",
	}); err != nil {
		t.Fatalf("EnqueueOfflineOperation: %v", err)
	}

	svc := &fakeImapMoveService{}
	if err := CoalesceMoves(context.Background(), db, svc); err != nil {
		t.Fatalf("CoalesceMoves: %v", err)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("expected no CopyMessages calls for a flag-change operation, got %v", svc.calls)
	}

	remaining, err := db.OfflineOperations()
	if err != nil {
		t.Fatalf("OfflineOperations: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected the flag-change operation to remain queued, got %d", len(remaining))
	}
}
