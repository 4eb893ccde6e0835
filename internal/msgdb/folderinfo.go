package msgdb

import "time"

const metaKeyLastPurgeTime = "folderinfo.lastPurgeTime"

// LastPurgeTime returns the folder's last retention sweep time, recorded
// as RFC 3339 (§9 open question: treated as already migrated off the
// historical locale-formatted string, since this is a fresh store). ok is
// false if no sweep has ever run.
func (db *DB) LastPurgeTime() (t time.Time, ok bool, err error) {
	raw, found, err := db.store.GetMeta(metaKeyLastPurgeTime)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetLastPurgeTime persists t as the folder's last retention sweep time.
func (db *DB) SetLastPurgeTime(t time.Time) error {
	return db.store.SetMeta(metaKeyLastPurgeTime, t.Format(time.RFC3339))
}
