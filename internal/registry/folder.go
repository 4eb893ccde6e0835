package registry

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/metrics"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FolderFlags is the registry's per-folder bitmask (§3.1).
type FolderFlags int64

const (
	FlagInbox FolderFlags = 1 << iota
	FlagSent
	FlagDrafts
	FlagTrash
	FlagJunk
	FlagQueue
	FlagTemplates
	FlagArchive
	FlagVirtual
)

// Folder is one node of the registry's in-memory tree.
type Folder struct {
	ID       int64
	ParentID int64 // 0 for a root folder
	Ordinal  *int64
	Name     string
	Flags    FolderFlags

	Children []*Folder
}

// IsRoot reports whether f has no parent, i.e. represents an account.
func (f *Folder) IsRoot() bool { return f.ParentID == 0 }

// caseFolder performs Unicode default case folding, language-neutral by
// definition, ahead of comparison.
var caseFolder = cases.Fold(cases.Compact())

// Normalize is the registry's name-equality function: Unicode NFC
// normalization followed by full case-folding, total and deterministic
// over any input string.
func Normalize(name string) string {
	return caseFolder.String(norm.NFC.String(name))
}

// FolderComparator orders folder children the way the UI lists them:
// folders carrying an ordinal sort by ordinal ahead of those without;
// folders without an ordinal sort after, alphabetically by name.
type FolderComparator struct{}

// Less reports whether a sorts before b.
func (FolderComparator) Less(a, b *Folder) bool {
	if a.Ordinal != nil && b.Ordinal != nil {
		if *a.Ordinal != *b.Ordinal {
			return *a.Ordinal < *b.Ordinal
		}
		return a.Name < b.Name
	}
	if a.Ordinal != nil {
		return true
	}
	if b.Ordinal != nil {
		return false
	}
	return a.Name < b.Name
}

// Equal reports whether a and b sort identically.
func (c FolderComparator) Equal(a, b *Folder) bool {
	return !c.Less(a, b) && !c.Less(b, a)
}

// SortChildren orders a folder's Children slice in place per
// FolderComparator.
func SortChildren(children []*Folder) {
	cmp := FolderComparator{}
	sort.SliceStable(children, func(i, j int) bool { return cmp.Less(children[i], children[j]) })
}

// loadFoldersQuery walks the tree with a recursive CTE so the result
// arrives in parent-before-child order in one pass: the anchor selects
// roots (parent IS NULL), the recursive arm joins one level deeper each
// time, and ORDER BY depth ASC means a row's ancestors are always
// already seen by the time children are read off.
const loadFoldersQuery = `
WITH RECURSIVE parents(id, parent, ordinal, name, flags, depth) AS (
	SELECT id, parent, ordinal, name, flags, 0
	FROM folders
	WHERE parent IS NULL
	UNION ALL
	SELECT f.id, f.parent, f.ordinal, f.name, f.flags, p.depth + 1
	FROM folders f
	JOIN parents p ON f.parent = p.id
)
SELECT id, parent, ordinal, name, flags, depth FROM parents
ORDER BY depth ASC
`

// LoadFolders reads the entire folder tree in one pass, returning the
// roots (accounts) with every descendant's Children slice populated, and
// a flat id -> *Folder index for O(1) lookups.
func (db *DB) LoadFolders() (roots []*Folder, byID map[int64]*Folder, err error) {
	start := time.Now()
	defer func() { metrics.FolderTreeLoadDuration.Observe(time.Since(start).Seconds()) }()

	rows, err := db.Query(loadFoldersQuery)
	if err != nil {
		return nil, nil, dberr.Wrap(dberr.StorageFailure, "load folder tree", err)
	}
	defer rows.Close()

	byID = make(map[int64]*Folder)
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		var ordinal sql.NullInt64
		var name string
		var flags int64
		var depth int
		if err := rows.Scan(&id, &parent, &ordinal, &name, &flags, &depth); err != nil {
			return nil, nil, dberr.Wrap(dberr.StorageFailure, "scan folder row", err)
		}

		f := &Folder{ID: id, Name: name, Flags: FolderFlags(flags)}
		if ordinal.Valid {
			v := ordinal.Int64
			f.Ordinal = &v
		}
		if parent.Valid {
			f.ParentID = parent.Int64
		}
		byID[id] = f

		if !parent.Valid {
			roots = append(roots, f)
			continue
		}
		parentFolder, ok := byID[parent.Int64]
		if !ok {
			// A parent appearing after its child would indicate the CTE's
			// depth ordering broke; treat as corruption rather than panic.
			return nil, nil, dberr.New(dberr.StorageFailure, "folder tree parent not yet loaded")
		}
		parentFolder.Children = append(parentFolder.Children, f)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, dberr.Wrap(dberr.StorageFailure, "iterate folder tree", err)
	}

	for _, f := range byID {
		SortChildren(f.Children)
	}
	SortChildren(roots)

	return roots, byID, nil
}

// GetFolderById returns a single folder by id without walking the tree.
func (db *DB) GetFolderById(id int64) (*Folder, error) {
	var parent sql.NullInt64
	var ordinal sql.NullInt64
	var name string
	var flags int64
	err := db.QueryRow("SELECT parent, ordinal, name, flags FROM folders WHERE id = ?", id).
		Scan(&parent, &ordinal, &name, &flags)
	if err == sql.ErrNoRows {
		return nil, dberr.New(dberr.FolderMissing, fmt.Sprintf("folder %d", id))
	}
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "get folder by id", err)
	}

	f := &Folder{ID: id, Name: name, Flags: FolderFlags(flags)}
	if ordinal.Valid {
		v := ordinal.Int64
		f.Ordinal = &v
	}
	if parent.Valid {
		f.ParentID = parent.Int64
	}
	return f, nil
}

// CreateFolder inserts a new folder under parentID (0 for a root/account),
// enforcing a unique normalised name per parent.
func (db *DB) CreateFolder(parentID int64, name string, flags FolderFlags) (*Folder, error) {
	normalized := Normalize(name)

	var query string
	var args []any
	if parentID == 0 {
		query = "SELECT id FROM folders WHERE parent IS NULL"
		args = nil
	} else {
		query = "SELECT id, name FROM folders WHERE parent = ?"
		args = []any{parentID}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "check folder name uniqueness", err)
	}
	for rows.Next() {
		var id int64
		var siblingName string
		if parentID == 0 {
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, dberr.Wrap(dberr.StorageFailure, "scan sibling", err)
			}
			f, err := db.GetFolderById(id)
			if err != nil {
				continue
			}
			siblingName = f.Name
		} else {
			if err := rows.Scan(&id, &siblingName); err != nil {
				rows.Close()
				return nil, dberr.Wrap(dberr.StorageFailure, "scan sibling", err)
			}
		}
		if Normalize(siblingName) == normalized {
			rows.Close()
			return nil, dberr.New(dberr.AlreadyExists, "a folder with that name already exists under this parent")
		}
	}
	rows.Close()

	var parentArg any
	if parentID != 0 {
		parentArg = parentID
	}
	res, err := db.Exec("INSERT INTO folders (parent, name, flags) VALUES (?, ?, ?)", parentArg, name, int64(flags))
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "insert folder", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "insert folder", err)
	}
	return &Folder{ID: id, ParentID: parentID, Name: name, Flags: flags}, nil
}

// DeleteFolder removes folder and cascades to every descendant (enforced
// by the schema's ON DELETE CASCADE).
func (db *DB) DeleteFolder(f *Folder) error {
	if _, err := db.Exec("DELETE FROM folders WHERE id = ?", f.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "delete folder", err)
	}
	return nil
}

// MoveFolder reparents f under newParentID, optionally setting a new
// ordinal. Rejects moves that would create a cycle (f becoming its own
// ancestor).
func (db *DB) MoveFolder(f *Folder, newParentID int64, ordinal *int64) error {
	if newParentID != 0 {
		ancestor := newParentID
		for ancestor != 0 {
			if ancestor == f.ID {
				return dberr.New(dberr.Unexpected, "move would create a folder cycle")
			}
			parent, err := db.GetFolderById(ancestor)
			if err != nil {
				break
			}
			ancestor = parent.ParentID
		}
	}

	var parentArg any
	if newParentID != 0 {
		parentArg = newParentID
	}
	var ordinalArg any
	if ordinal != nil {
		ordinalArg = *ordinal
	}
	if _, err := db.Exec("UPDATE folders SET parent = ?, ordinal = ? WHERE id = ?", parentArg, ordinalArg, f.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "move folder", err)
	}
	f.ParentID = newParentID
	f.Ordinal = ordinal
	return nil
}

// Rename changes f's display name, re-checking the unique-per-parent
// constraint under normalization.
func (db *DB) Rename(f *Folder, newName string) error {
	normalized := Normalize(newName)
	rows, err := db.Query("SELECT id, name FROM folders WHERE parent IS ? AND id != ?", nullableParent(f.ParentID), f.ID)
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "check rename uniqueness", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return dberr.Wrap(dberr.StorageFailure, "scan sibling", err)
		}
		if Normalize(name) == normalized {
			return dberr.New(dberr.AlreadyExists, "a folder with that name already exists under this parent")
		}
	}

	if _, err := db.Exec("UPDATE folders SET name = ? WHERE id = ?", newName, f.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "rename folder", err)
	}
	f.Name = newName
	return nil
}

func nullableParent(parentID int64) any {
	if parentID == 0 {
		return nil
	}
	return parentID
}

// GetFolderProperty reads a free-form property, returning def if unset.
func (db *DB) GetFolderProperty(id int64, key, def string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM folder_properties WHERE folder_id = ? AND key = ?", id, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, dberr.Wrap(dberr.StorageFailure, "get folder property", err)
	}
	return value, nil
}

// SetFolderProperty writes a free-form property.
func (db *DB) SetFolderProperty(id int64, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO folder_properties (folder_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(folder_id, key) DO UPDATE SET value = excluded.value`,
		id, key, value,
	)
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "set folder property", err)
	}
	return nil
}
