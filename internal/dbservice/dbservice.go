// Package dbservice implements the process-wide DB service (§3.3): a
// reference-counted, weak cache of open *msgdb.DB instances, one per
// folder. It is an explicit, injectable collaborator rather than a
// singleton, per the design note against global state (§9).
package dbservice

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/filenamehash"
	"github.com/hkdb/aerion/internal/logging"
	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/rs/zerolog"
)

// summaryExtension is the per-folder summary file suffix (§6).
const summaryExtension = ".msf"

type entry struct {
	db       *msgdb.DB
	refCount int
}

// Service is a process-wide cache of open summary databases, keyed by
// folder registry id. A second Open for the same folder returns the
// cached instance with its reference count bumped; ForceClosed drops the
// last reference and evicts the entry.
type Service struct {
	mu       sync.Mutex
	storeDir string
	open     map[int64]*entry
	log      zerolog.Logger
}

// New builds a DB service rooted at storeDir, the account's mail store
// directory (§6) under which every folder's <folderName>.msf file lives.
func New(storeDir string) *Service {
	return &Service{
		storeDir: storeDir,
		open:     make(map[int64]*entry),
		log:      logging.WithComponent("dbservice"),
	}
}

// PathFor returns the on-disk summary path for folderName, hashing it if
// it is unsafe for the filesystem (§6).
func (s *Service) PathFor(folderName string) string {
	safe := filenamehash.SafeName(folderName)
	return filepath.Join(s.storeDir, safe+summaryExtension)
}

// Open returns the summary database for folderID, opening it from disk
// (creating it if create is true) on the first request and returning the
// cached instance thereafter. If the summary is stale (version mismatch
// or forceReparse set; no other consistency check is made), the stale
// file is deleted and the specific error kind is returned so the caller
// knows a rebuild is needed; it is the caller's responsibility to call
// Open again with create=true to rebuild.
func (s *Service) Open(folderID int64, folderName string, create bool) (*msgdb.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.open[folderID]; ok {
		e.refCount++
		return e.db, nil
	}

	path := s.PathFor(folderName)
	db, err := msgdb.Open(path, create, false)
	if err != nil {
		if isErr, ok := err.(*dberr.Error); ok && isErr.Kind == dberr.SummaryOutOfDate {
			s.log.Warn().Int64("folderId", folderID).Str("path", path).Msg("summary out of date, deleting for rebuild")
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, dberr.Wrap(dberr.StorageFailure, "remove stale summary", rmErr)
			}
		}
		return nil, err
	}

	db.SetFolderID(folderID)
	s.open[folderID] = &entry{db: db, refCount: 1}
	s.log.Info().Int64("folderId", folderID).Str("path", path).Msg("summary database opened")
	return db, nil
}

// Release drops one reference to folderID's database. When the last
// reference is released, the database is force-closed and evicted from
// the cache.
func (s *Service) Release(folderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.open[folderID]
	if !ok {
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}

	delete(s.open, folderID)
	s.log.Info().Int64("folderId", folderID).Msg("summary database evicted")
	return e.db.ForceClosed()
}

// ForceClose unconditionally closes and evicts folderID's database,
// regardless of outstanding references — used when the folder itself is
// deleted or the account is removed.
func (s *Service) ForceClose(folderID int64) error {
	s.mu.Lock()
	e, ok := s.open[folderID]
	if ok {
		delete(s.open, folderID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return e.db.ForceClosed()
}

// Lookup returns the cached database for folderID without affecting its
// reference count, for callers (liveview multi-folder construction) that
// already hold a reference through another path.
func (s *Service) Lookup(folderID int64) (*msgdb.DB, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.open[folderID]
	if !ok {
		return nil, false
	}
	return e.db, true
}

// OpenCount reports how many folders currently have an open database, for
// diagnostics and tests.
func (s *Service) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}
