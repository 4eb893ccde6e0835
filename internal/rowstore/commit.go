package rowstore

import (
	"strconv"
	"time"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/metrics"
)

// CommitKind selects how thoroughly a commit flushes and reclaims space,
// mirroring the store's historical four commit levels (§4.1).
type CommitKind int

const (
	// CommitSmall flushes pending writes without a WAL checkpoint; the
	// cheapest commit, used after a handful of header changes.
	CommitSmall CommitKind = iota
	// CommitLarge runs a passive WAL checkpoint, used after bulk operations
	// such as a retention sweep's batch of deletes.
	CommitLarge
	// CommitCompress additionally reclaims free pages. Chosen automatically
	// when WastePercent reports waste at or above CompressWasteThreshold.
	CommitCompress
	// CommitSession marks the end of a logical session (folder close,
	// shutdown), behaving like CommitLarge.
	CommitSession
)

func (k CommitKind) String() string {
	switch k {
	case CommitSmall:
		return "small"
	case CommitLarge:
		return "large"
	case CommitCompress:
		return "compress"
	case CommitSession:
		return "session"
	default:
		return "unknown_" + strconv.Itoa(int(k))
	}
}

// FolderCounts is the small persistent summary a commit flushes into the
// store's meta table, the "persistent folder cache element" that lets a
// folder's total/unread counts be read without reopening and rescanning
// its message table.
type FolderCounts struct {
	TotalMessages  int64
	UnreadMessages int64
	PendingUnread  int64
}

// Commit flushes the store per kind. Every kind also persists counts, if
// non-nil, into the folder cache element.
func (s *Store) Commit(kind CommitKind, counts *FolderCounts) error {
	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
		metrics.CommitsTotal.WithLabelValues(kind.String()).Inc()
	}()

	if counts != nil {
		if err := s.setFolderCounts(counts); err != nil {
			return err
		}
	}

	switch kind {
	case CommitSmall:
		return nil
	case CommitLarge, CommitSession:
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
			return dberr.Wrap(dberr.StorageFailure, "checkpoint commit", err)
		}
		return nil
	case CommitCompress:
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return dberr.Wrap(dberr.StorageFailure, "checkpoint before compress", err)
		}
		if _, err := s.db.Exec("VACUUM"); err != nil {
			return dberr.Wrap(dberr.StorageFailure, "compress commit", err)
		}
		return nil
	default:
		return dberr.New(dberr.Unexpected, "unknown commit kind")
	}
}

// CommitAuto picks CommitCompress when the store's waste has crossed
// CompressWasteThreshold, and kind otherwise — the store deciding for
// itself rather than requiring every caller to poll WastePercent.
func (s *Store) CommitAuto(kind CommitKind, counts *FolderCounts) error {
	waste, err := s.WastePercent()
	if err != nil {
		return err
	}
	metrics.WastePercent.Set(waste)
	if waste >= CompressWasteThreshold {
		s.log.Info().Float64("waste", waste).Msg("waste threshold exceeded, upgrading to compress commit")
		kind = CommitCompress
	}
	return s.Commit(kind, counts)
}

const (
	metaKeyTotalMessages  = "folder_counts.total"
	metaKeyUnreadMessages = "folder_counts.unread"
	metaKeyPendingUnread  = "folder_counts.pending_unread"
)

func (s *Store) setFolderCounts(c *FolderCounts) error {
	if err := s.SetMeta(metaKeyTotalMessages, EncodeHex64(uint64(c.TotalMessages))); err != nil {
		return err
	}
	if err := s.SetMeta(metaKeyUnreadMessages, EncodeHex64(uint64(c.UnreadMessages))); err != nil {
		return err
	}
	if err := s.SetMeta(metaKeyPendingUnread, EncodeHex64(uint64(c.PendingUnread))); err != nil {
		return err
	}
	return nil
}

// FolderCounts reads back the most recently committed folder cache
// element. ok is false if no commit has ever persisted counts.
func (s *Store) FolderCounts() (c FolderCounts, ok bool, err error) {
	total, found, err := s.GetMeta(metaKeyTotalMessages)
	if err != nil || !found {
		return FolderCounts{}, false, err
	}
	unread, _, err := s.GetMeta(metaKeyUnreadMessages)
	if err != nil {
		return FolderCounts{}, false, err
	}
	pending, _, err := s.GetMeta(metaKeyPendingUnread)
	if err != nil {
		return FolderCounts{}, false, err
	}

	totalV, err := DecodeHex64(total)
	if err != nil {
		return FolderCounts{}, false, err
	}
	unreadV, err := DecodeHex64(unread)
	if err != nil {
		return FolderCounts{}, false, err
	}
	pendingV, err := DecodeHex64(pending)
	if err != nil {
		return FolderCounts{}, false, err
	}

	return FolderCounts{
		TotalMessages:  int64(totalV),
		UnreadMessages: int64(unreadV),
		PendingUnread:  int64(pendingV),
	}, true, nil
}
