package registry

import (
	"database/sql"
	"sort"

	"github.com/hkdb/aerion/internal/dberr"
)

// VirtualFolderWrapper offers typed accessors over a Virtual folder's
// extra state: the ordered search-folder list, the raw search string,
// and the online-search flag. Parsing the search string into terms is
// delegated to a caller-supplied TermParser so this package never
// imports the live-view engine that owns the term grammar.
type VirtualFolderWrapper struct {
	db     *DB
	folder *Folder
}

// TermParser turns a virtual folder's raw search string into whatever
// term representation the live-view engine compiles into Go predicates
// (the live-view engine generates no SQL). T is
// left to the caller (typically liveview.FilterTerm); registry stays
// agnostic of the term grammar.
type TermParser[T any] func(searchString string) (T, error)

// VirtualFolder returns a wrapper for f, which must carry FlagVirtual.
func (db *DB) VirtualFolder(f *Folder) (*VirtualFolderWrapper, error) {
	if f.Flags&FlagVirtual == 0 {
		return nil, dberr.New(dberr.Unexpected, "folder is not a virtual folder")
	}
	return &VirtualFolderWrapper{db: db, folder: f}, nil
}

// SearchFolderIDs returns the ordered list of folder ids this virtual
// folder searches over.
func (w *VirtualFolderWrapper) SearchFolderIDs() ([]int64, error) {
	rows, err := w.db.Query(
		`SELECT search_folder_id FROM virtual_folder_search_folders
		 WHERE virtual_folder_id = ? ORDER BY position ASC`,
		w.folder.ID,
	)
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "read virtual folder search folders", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Wrap(dberr.StorageFailure, "scan search folder id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSearchFolderIDs replaces the ordered search-folder list. ids must
// not include the virtual folder's own id (§3.2).
func (w *VirtualFolderWrapper) SetSearchFolderIDs(ids []int64) error {
	for _, id := range ids {
		if id == w.folder.ID {
			return dberr.New(dberr.Unexpected, "virtual folder cannot search itself")
		}
	}

	tx, err := w.db.Begin()
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "begin search folder update", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM virtual_folder_search_folders WHERE virtual_folder_id = ?`, w.folder.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "clear search folders", err)
	}
	for i, id := range ids {
		if _, err := tx.Exec(
			`INSERT INTO virtual_folder_search_folders (virtual_folder_id, search_folder_id, position) VALUES (?, ?, ?)`,
			w.folder.ID, id, i,
		); err != nil {
			return dberr.Wrap(dberr.StorageFailure, "insert search folder", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "commit search folder update", err)
	}
	return nil
}

// SearchString returns the raw, unparsed search string.
func (w *VirtualFolderWrapper) SearchString() (string, error) {
	var s string
	err := w.db.QueryRow(`SELECT search_string FROM virtual_folder_meta WHERE virtual_folder_id = ?`, w.folder.ID).Scan(&s)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", dberr.Wrap(dberr.StorageFailure, "read virtual folder search string", err)
	}
	return s, nil
}

// OnlineSearch reports whether this virtual folder re-issues its search
// against the server rather than scanning local summaries only.
func (w *VirtualFolderWrapper) OnlineSearch() (bool, error) {
	var v int
	err := w.db.QueryRow(`SELECT online_search FROM virtual_folder_meta WHERE virtual_folder_id = ?`, w.folder.ID).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dberr.Wrap(dberr.StorageFailure, "read virtual folder online flag", err)
	}
	return v != 0, nil
}

// SetMeta upserts the search string and online-search flag together.
func (w *VirtualFolderWrapper) SetMeta(searchString string, onlineSearch bool) error {
	online := 0
	if onlineSearch {
		online = 1
	}
	_, err := w.db.Exec(
		`INSERT INTO virtual_folder_meta (virtual_folder_id, search_string, online_search) VALUES (?, ?, ?)
		 ON CONFLICT(virtual_folder_id) DO UPDATE SET search_string = excluded.search_string, online_search = excluded.online_search`,
		w.folder.ID, searchString, online,
	)
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "set virtual folder meta", err)
	}
	return nil
}

// ParseSearchTerms hands the raw search string to parse, returning the
// term representation the live-view engine compiles.
func ParseSearchTerms[T any](w *VirtualFolderWrapper, parse TermParser[T]) (T, error) {
	var zero T
	s, err := w.SearchString()
	if err != nil {
		return zero, err
	}
	return parse(s)
}

// sortedInt64 returns a sorted copy of ids, for deterministic comparison
// of id sets returned by the store. Nothing in this package calls it.
func sortedInt64(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
