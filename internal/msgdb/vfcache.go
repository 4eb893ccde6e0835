package msgdb

import (
	"sort"

	"github.com/hkdb/aerion/internal/rowstore"
)

const vfCacheTableKind = "vfcache"

// vfCacheTable returns (creating if needed) the per-search-URI table of
// row references backing a virtual folder's persisted last-known result
// set (§4.2.4).
func (db *DB) vfCacheTable(uri string) (*rowstore.Table, error) {
	key, err := db.store.InternToken(vfCacheTableKind + ":" + uri)
	if err != nil {
		return nil, err
	}
	return db.store.OpenTable(vfCacheTableKind, uint32(key))
}

// GetCachedHits returns the sorted-ascending keys currently cached for uri.
func (db *DB) GetCachedHits(uri string) ([]MessageKey, error) {
	table, err := db.vfCacheTable(uri)
	if err != nil {
		return nil, err
	}

	it := table.NewIterator(rowstore.OrderOID)
	defer it.Close()
	var keys []MessageKey
	for {
		row, err := it.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		keys = append(keys, MessageKey(row.OID))
	}
	return keys, nil
}

// RefreshCache performs a sorted-merge diff between the cached set and
// newKeys (which must be sorted ascending): keys present in the old set
// but absent from newKeys are reported as stale and removed; keys present
// in newKeys but not in the old set are added; common keys are untouched.
// The result is committed under a Large commit (testable property 4:
// applying the same newKeys twice in a row yields no stale keys the
// second time).
func (db *DB) RefreshCache(uri string, newKeys []MessageKey) ([]MessageKey, error) {
	table, err := db.vfCacheTable(uri)
	if err != nil {
		return nil, err
	}

	oldKeys, err := db.GetCachedHits(uri)
	if err != nil {
		return nil, err
	}

	sorted := make([]MessageKey, len(newKeys))
	copy(sorted, newKeys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var stale []MessageKey
	i, j := 0, 0
	for i < len(oldKeys) || j < len(sorted) {
		switch {
		case i >= len(oldKeys):
			if err := table.AddRow(uint32(sorted[j]), nil); err != nil {
				return nil, err
			}
			j++
		case j >= len(sorted):
			stale = append(stale, oldKeys[i])
			if err := table.DeleteRow(uint32(oldKeys[i])); err != nil {
				return nil, err
			}
			i++
		case oldKeys[i] == sorted[j]:
			i++
			j++
		case oldKeys[i] < sorted[j]:
			stale = append(stale, oldKeys[i])
			if err := table.DeleteRow(uint32(oldKeys[i])); err != nil {
				return nil, err
			}
			i++
		default:
			if err := table.AddRow(uint32(sorted[j]), nil); err != nil {
				return nil, err
			}
			j++
		}
	}

	if err := db.Commit(rowstore.CommitLarge); err != nil {
		return nil, err
	}
	return stale, nil
}

// UpdateHdrInCache adds or removes a single header's key from uri's cache
// without a full RefreshCache pass.
func (db *DB) UpdateHdrInCache(uri string, h *Header, add bool) error {
	table, err := db.vfCacheTable(uri)
	if err != nil {
		return err
	}
	if add {
		return table.AddRow(uint32(h.Key), nil)
	}
	return table.DeleteRow(uint32(h.Key))
}
