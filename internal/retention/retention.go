// Package retention implements retention sweeps, the periodic purge
// service, the offline/online playback state machines and the shutdown
// coordinator described by §4.6.
package retention

import (
	"sort"
	"time"

	"github.com/hkdb/aerion/internal/metrics"
	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/hkdb/aerion/internal/registry"
	"github.com/hkdb/aerion/internal/rowstore"
)

// FolderDeleter delegates message deletion to the folder collaborator
// (which may need to talk to a server) instead of deleting rows directly.
type FolderDeleter interface {
	DeleteMessages(keys []msgdb.MessageKey) error
}

// batchCommitSize and compressThresholdDeletes mirror §4.6.1's numbers
// exactly: commit every 300 deletes, compress at the end past 10.
const (
	batchCommitSize          = 300
	compressThresholdDeletes = 10
)

// ApplyRetentionSettings purges db's folder per settings. folderFlags
// identifies folders retention must never touch: Drafts, Templates, and
// the outbox (modeled here as Queue, §4.4's flag for the send-later
// queue). If deleteViaFolder, deletion is delegated to deleter; otherwise
// rows are deleted directly, batching commits.
func ApplyRetentionSettings(db *msgdb.DB, settings msgdb.RetentionSettings, folderFlags registry.FolderFlags, deleteViaFolder bool, deleter FolderDeleter) error {
	if folderFlags&(registry.FlagDrafts|registry.FlagTemplates|registry.FlagQueue) != 0 {
		return nil
	}

	candidates, err := candidateKeys(db, settings)
	if err != nil {
		return err
	}

	if err := db.SetLastPurgeTime(time.Now()); err != nil {
		return err
	}

	if len(candidates) == 0 {
		return nil
	}

	if deleteViaFolder {
		if err := deleter.DeleteMessages(candidates); err != nil {
			return err
		}
		metrics.MessagesPurged.Add(float64(len(candidates)))
		return nil
	}

	return deleteDirectly(db, candidates)
}

func candidateKeys(db *msgdb.DB, settings msgdb.RetentionSettings) ([]msgdb.MessageKey, error) {
	switch settings.Mode {
	case msgdb.RetentionByAge:
		return byAgeCandidates(db, settings)
	case msgdb.RetentionByCount:
		return byCountCandidates(db, settings)
	default:
		return nil, nil
	}
}

func byAgeCandidates(db *msgdb.DB, settings msgdb.RetentionSettings) ([]msgdb.MessageKey, error) {
	cutoff := time.Now().AddDate(0, 0, -settings.AgeDays).UnixMicro()

	e := db.EnumerateMessages()
	defer e.Close()

	var out []msgdb.MessageKey
	for {
		h, err := e.Next()
		if err != nil {
			return nil, err
		}
		if h == nil {
			break
		}
		if h.Date >= cutoff {
			continue
		}
		if !settings.ApplyToFlagged && h.Flags&msgdb.FlagMarked != 0 {
			continue
		}
		out = append(out, h.Key)
	}
	return out, nil
}

func byCountCandidates(db *msgdb.DB, settings msgdb.RetentionSettings) ([]msgdb.MessageKey, error) {
	e := db.EnumerateMessages()
	defer e.Close()

	type dated struct {
		key  msgdb.MessageKey
		date int64
	}
	var eligible []dated
	for {
		h, err := e.Next()
		if err != nil {
			return nil, err
		}
		if h == nil {
			break
		}
		if !settings.ApplyToFlagged && h.Flags&msgdb.FlagMarked != 0 {
			continue
		}
		eligible = append(eligible, dated{h.Key, h.Date})
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].date > eligible[j].date })
	if len(eligible) <= settings.KeepCount {
		return nil, nil
	}

	surplus := eligible[settings.KeepCount:]
	out := make([]msgdb.MessageKey, len(surplus))
	for i, d := range surplus {
		out[i] = d.key
	}
	return out, nil
}

func deleteDirectly(db *msgdb.DB, candidates []msgdb.MessageKey) error {
	deleted := 0
	for _, key := range candidates {
		h, err := db.GetMsgHdrForKey(key)
		if err != nil {
			continue
		}
		if err := db.DeleteHeader(h, false, true); err != nil {
			return err
		}
		deleted++
		if deleted%batchCommitSize == 0 {
			if err := db.Commit(rowstore.CommitLarge); err != nil {
				return err
			}
		}
	}

	metrics.MessagesPurged.Add(float64(deleted))

	if deleted > compressThresholdDeletes {
		return db.Commit(rowstore.CommitCompress)
	}
	if deleted > 0 {
		return db.Commit(rowstore.CommitSmall)
	}
	return nil
}
