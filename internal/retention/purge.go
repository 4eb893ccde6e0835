package retention

import (
	"context"
	"sync"
	"time"

	"github.com/hkdb/aerion/internal/logging"
	"github.com/hkdb/aerion/internal/metrics"
	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/hkdb/aerion/internal/registry"
	"github.com/rs/zerolog"
)

// DefaultTickInterval and DefaultMinFolderDelay match §4.6.2's defaults.
const (
	DefaultTickInterval   = 5 * time.Minute
	DefaultMinFolderDelay = 8 * time.Hour
	DefaultWallBudget     = 500 * time.Millisecond
)

// FolderScope is one folder the periodic purge service considers on every
// tick. The scheduler takes its scopes from a resolver function rather
// than a static slice since the set of open folders changes as the
// application opens and closes them.
type FolderScope struct {
	FolderID        int64
	Flags           registry.FolderFlags
	DB              *msgdb.DB
	Settings        msgdb.RetentionSettings
	DeleteViaFolder bool
	Deleter         FolderDeleter
}

// JunkPurgeSearcher is the server-search collaborator the spam-purge pass
// delegates to; building and running the actual search session is network
// work that belongs to the protocol layer, not this package.
type JunkPurgeSearcher interface {
	LoggedIn() bool
	SearchInFlight() bool
	// PurgeSpam searches the Junk folder for AgeInDays > purgeInterval AND
	// junkscore == IS_SPAM_SCORE, re-checking junk status per hit, and
	// deletes the matches. Returns the number deleted.
	PurgeSpam(ctx context.Context, purgeInterval time.Duration) (int, error)
}

// JunkScope is one server's Junk folder, considered for spam purge
// separately from the regular per-folder retention pass.
type JunkScope struct {
	FolderID      int64
	DB            *msgdb.DB
	PurgeInterval time.Duration
	Searcher      JunkPurgeSearcher
}

// Scheduler runs the periodic purge service (§4.6.2): every tick it
// applies retention settings to folders whose last sweep is older than
// MinFolderDelay, aborting the pass once WallBudget elapses so the rest
// are picked up on the next tick, then runs the spam-purge pass over
// every junk scope that is due and ready.
type Scheduler struct {
	TickInterval  time.Duration
	MinFolderDelay time.Duration
	WallBudget     time.Duration

	folders func() []FolderScope
	junk    func() []JunkScope
	log     zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewScheduler builds a purge scheduler over the folders and junk scopes
// folders/junk resolve at each tick. junk may be nil if no server enables
// spam purge.
func NewScheduler(folders func() []FolderScope, junk func() []JunkScope) *Scheduler {
	if junk == nil {
		junk = func() []JunkScope { return nil }
	}
	return &Scheduler{
		TickInterval:   DefaultTickInterval,
		MinFolderDelay: DefaultMinFolderDelay,
		WallBudget:     DefaultWallBudget,
		folders:        folders,
		junk:           junk,
		log:            logging.WithComponent("retention-scheduler"),
	}
}

// Start runs the scheduler's tick loop in the background until ctx is
// cancelled or Stop is called. The first sweep runs one TickInterval
// after startup, per §4.6.2.
func (s *Scheduler) Start(ctx context.Context) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		s.log.Warn().Msg("purge scheduler already running")
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.run()
	s.log.Info().Msg("purge scheduler started")
}

// Stop cancels the tick loop and waits for the in-flight tick, if any, to
// return.
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("purge scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.ctx.Done():
			return
		}
	}
}

// tick runs one purge pass. Exported as RunOnce for callers (tests, a
// manual "purge now" command) that want to trigger a pass outside the
// regular ticker.
func (s *Scheduler) tick() { s.RunOnce() }

// RunOnce runs a single purge pass synchronously: the per-folder
// retention sweep followed by the spam-purge pass.
func (s *Scheduler) RunOnce() {
	s.sweepFolders()
	s.sweepJunk()
}

func (s *Scheduler) sweepFolders() {
	start := time.Now()
	for _, f := range s.folders() {
		if time.Since(start) > s.WallBudget {
			metrics.PurgeRunsTotal.WithLabelValues("aborted_budget").Inc()
			return
		}

		last, ok, err := f.DB.LastPurgeTime()
		if err != nil {
			s.log.Warn().Err(err).Int64("folderId", f.FolderID).Msg("could not read last purge time")
		}
		if ok && time.Since(last) < s.MinFolderDelay {
			metrics.PurgeRunsTotal.WithLabelValues("skipped_delay").Inc()
			continue
		}

		if err := ApplyRetentionSettings(f.DB, f.Settings, f.Flags, f.DeleteViaFolder, f.Deleter); err != nil {
			s.log.Error().Err(err).Int64("folderId", f.FolderID).Msg("retention sweep failed")
			continue
		}
		metrics.PurgeRunsTotal.WithLabelValues("completed").Inc()
	}
}

func (s *Scheduler) sweepJunk() {
	for _, j := range s.junk() {
		last, ok, err := j.DB.LastPurgeTime()
		if err != nil {
			s.log.Warn().Err(err).Int64("folderId", j.FolderID).Msg("could not read junk folder purge time")
			continue
		}
		if ok && time.Since(last) < j.PurgeInterval {
			continue
		}
		if j.Searcher.SearchInFlight() || !j.Searcher.LoggedIn() {
			continue
		}

		deleted, err := j.Searcher.PurgeSpam(s.ctx, j.PurgeInterval)
		if err := j.DB.SetLastPurgeTime(time.Now()); err != nil {
			s.log.Warn().Err(err).Int64("folderId", j.FolderID).Msg("could not record junk folder purge time")
		}
		if err != nil {
			s.log.Error().Err(err).Int64("folderId", j.FolderID).Msg("spam purge failed")
			continue
		}
		metrics.MessagesPurged.Add(float64(deleted))
	}
}
