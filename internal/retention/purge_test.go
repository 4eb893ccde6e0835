package retention

import (
	"context"
	"testing"
	"time"

	"github.com/hkdb/aerion/internal/msgdb"
)

func TestSchedulerSweepFoldersRespectsMinDelay(t *testing.T) {
	db := openTestDB(t)
	addHeader(t, db, "old", 0, 1)

	if err := db.SetLastPurgeTime(time.Now()); err != nil {
		t.Fatalf("SetLastPurgeTime: %v", err)
	}

	scope := FolderScope{
		FolderID: 1,
		DB:       db,
		Settings: msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 0, ApplyToFlagged: true},
	}
	s := NewScheduler(func() []FolderScope { return []FolderScope{scope} }, nil)
	s.MinFolderDelay = time.Hour
	s.ctx = context.Background()

	s.RunOnce()

	if _, err := db.GetMsgHdrForKey(1); err != nil {
		t.Fatalf("expected the message to survive since the folder was swept too recently: %v", err)
	}
}

func TestSchedulerSweepFoldersAbortsOnWallBudget(t *testing.T) {
	dbA := openTestDB(t)
	dbB := openTestDB(t)
	addHeader(t, dbA, "old", 0, 1)
	addHeader(t, dbB, "old", 0, 1)

	scopes := []FolderScope{
		{FolderID: 1, DB: dbA, Settings: msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 0, ApplyToFlagged: true}},
		{FolderID: 2, DB: dbB, Settings: msgdb.RetentionSettings{Mode: msgdb.RetentionByCount, KeepCount: 0, ApplyToFlagged: true}},
	}
	s := NewScheduler(func() []FolderScope { return scopes }, nil)
	s.WallBudget = 0
	s.ctx = context.Background()

	s.RunOnce()

	if _, err := dbA.GetMsgHdrForKey(1); err != nil {
		t.Fatal("expected the wall budget to already be exceeded before the first folder, leaving it unswept")
	}
}

type fakeSearcher struct {
	loggedIn    bool
	inFlight    bool
	deleted     int
	searchCalls int
}

func (f *fakeSearcher) LoggedIn() bool      { return f.loggedIn }
func (f *fakeSearcher) SearchInFlight() bool { return f.inFlight }
func (f *fakeSearcher) PurgeSpam(ctx context.Context, purgeInterval time.Duration) (int, error) {
	f.searchCalls++
	return f.deleted, nil
}

func TestSchedulerSweepJunkSkipsWhenNotLoggedIn(t *testing.T) {
	db := openTestDB(t)
	searcher := &fakeSearcher{loggedIn: false, deleted: 5}

	s := NewScheduler(func() []FolderScope { return nil }, func() []JunkScope {
		return []JunkScope{{FolderID: 1, DB: db, PurgeInterval: time.Hour, Searcher: searcher}}
	})
	s.ctx = context.Background()

	s.RunOnce()

	if searcher.searchCalls != 0 {
		t.Fatalf("expected PurgeSpam not to run while logged out, got %d calls", searcher.searchCalls)
	}
}

func TestSchedulerSweepJunkRunsWhenDue(t *testing.T) {
	db := openTestDB(t)
	searcher := &fakeSearcher{loggedIn: true, deleted: 5}

	s := NewScheduler(func() []FolderScope { return nil }, func() []JunkScope {
		return []JunkScope{{FolderID: 1, DB: db, PurgeInterval: time.Hour, Searcher: searcher}}
	})
	s.ctx = context.Background()

	s.RunOnce()

	if searcher.searchCalls != 1 {
		t.Fatalf("expected PurgeSpam to run once, got %d calls", searcher.searchCalls)
	}
	if _, ok, _ := db.LastPurgeTime(); !ok {
		t.Fatal("expected junk folder LastPurgeTime to be recorded after the spam pass")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(func() []FolderScope { return nil }, nil)
	s.TickInterval = time.Hour

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
