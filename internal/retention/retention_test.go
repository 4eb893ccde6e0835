package retention

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/hkdb/aerion/internal/registry"
)

func openTestDB(t *testing.T) *msgdb.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Inbox.msf")
	db, err := msgdb.Open(path, true, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.ForceClosed() })
	return db
}

func addHeader(t *testing.T, db *msgdb.DB, subject string, flags msgdb.Flags, date int64) *msgdb.Header {
	t.Helper()
	h, err := db.CreateMsgHdr(nil)
	if err != nil {
		t.Fatalf("CreateMsgHdr: %v", err)
	}
	h.Subject = subject
	h.Flags = flags
	h.Date = date
	if err := db.AddNewHdrToDB(h, true); err != nil {
		t.Fatalf("AddNewHdrToDB: %v", err)
	}
	return h
}

// TestS3RetentionByCount is scenario S3: 100 messages, none Marked, dates
// strictly increasing; ByCount(25), applyToFlagged=false. Expect 75
// deletions, the 25 highest-dated messages survive, LastPurgeTime is set.
func TestS3RetentionByCount(t *testing.T) {
	db := openTestDB(t)

	var keys []msgdb.MessageKey
	for i := 0; i < 100; i++ {
		h := addHeader(t, db, "msg", 0, int64(i+1))
		keys = append(keys, h.Key)
	}

	settings := msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 25, ApplyToFlagged: false}
	if err := ApplyRetentionSettings(db, settings, 0, false, nil); err != nil {
		t.Fatalf("ApplyRetentionSettings: %v", err)
	}

	remaining := 0
	e := db.EnumerateMessages()
	defer e.Close()
	for {
		h, err := e.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if h == nil {
			break
		}
		if h.Date < 76 {
			t.Fatalf("expected only the 25 highest-dated messages to survive, found date %d", h.Date)
		}
		remaining++
	}
	if remaining != 25 {
		t.Fatalf("expected 25 messages to remain, got %d", remaining)
	}

	_, ok, err := db.LastPurgeTime()
	if err != nil {
		t.Fatalf("LastPurgeTime: %v", err)
	}
	if !ok {
		t.Fatal("expected LastPurgeTime to be set")
	}
}

func TestByCountProtectsMarkedMessages(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 10; i++ {
		addHeader(t, db, "msg", 0, int64(i+1))
	}
	marked := addHeader(t, db, "keep me", msgdb.FlagMarked, 1)

	settings := msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 3, ApplyToFlagged: false}
	if err := ApplyRetentionSettings(db, settings, 0, false, nil); err != nil {
		t.Fatalf("ApplyRetentionSettings: %v", err)
	}

	h, err := db.GetMsgHdrForKey(marked.Key)
	if err != nil || h == nil {
		t.Fatalf("expected Marked message to survive regardless of KeepCount, got err=%v h=%v", err, h)
	}
}

func TestByAgeRespectsCutoffAndFlagged(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UnixMicro()
	old := addHeader(t, db, "old", 0, now-int64(40*24*time.Hour/time.Microsecond))
	oldMarked := addHeader(t, db, "old marked", msgdb.FlagMarked, now-int64(40*24*time.Hour/time.Microsecond))
	fresh := addHeader(t, db, "fresh", 0, now)

	settings := msgdb.RetentionSettings{Mode: msgdb.RetentionByAge, AgeDays: 30, ApplyToFlagged: false}
	if err := ApplyRetentionSettings(db, settings, 0, false, nil); err != nil {
		t.Fatalf("ApplyRetentionSettings: %v", err)
	}

	if h, _ := db.GetMsgHdrForKey(old.Key); h != nil {
		t.Fatal("expected old unmarked message to be purged")
	}
	if h, _ := db.GetMsgHdrForKey(oldMarked.Key); h == nil {
		t.Fatal("expected old Marked message to survive when applyToFlagged is false")
	}
	if h, _ := db.GetMsgHdrForKey(fresh.Key); h == nil {
		t.Fatal("expected fresh message to survive")
	}
}

func TestApplyRetentionSettingsSkipsProtectedFolders(t *testing.T) {
	db := openTestDB(t)
	addHeader(t, db, "draft", 0, 1)

	settings := msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 0, ApplyToFlagged: true}
	if err := ApplyRetentionSettings(db, settings, registry.FlagDrafts, false, nil); err != nil {
		t.Fatalf("ApplyRetentionSettings: %v", err)
	}

	if _, ok, _ := db.LastPurgeTime(); ok {
		t.Fatal("expected Drafts folder to be skipped entirely, including LastPurgeTime bookkeeping")
	}
}

type recordingDeleter struct {
	deleted []msgdb.MessageKey
}

func (d *recordingDeleter) DeleteMessages(keys []msgdb.MessageKey) error {
	d.deleted = append(d.deleted, keys...)
	return nil
}

func TestApplyRetentionSettingsDelegatesToFolderDeleter(t *testing.T) {
	db := openTestDB(t)
	h := addHeader(t, db, "old", 0, 1)

	settings := msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 0, ApplyToFlagged: true}
	deleter := &recordingDeleter{}
	if err := ApplyRetentionSettings(db, settings, 0, true, deleter); err != nil {
		t.Fatalf("ApplyRetentionSettings: %v", err)
	}

	if len(deleter.deleted) != 1 || deleter.deleted[0] != h.Key {
		t.Fatalf("expected the deleter to receive %v, got %v", h.Key, deleter.deleted)
	}
	// deleteViaFolder delegates the row deletion; the header itself is
	// still present since nothing but the deleter can remove it.
	if _, err := db.GetMsgHdrForKey(h.Key); err != nil {
		t.Fatalf("expected header to remain until the deleter actually removes it: %v", err)
	}
}
