package rowstore

import (
	"database/sql"

	"github.com/hkdb/aerion/internal/dberr"
)

// CellForm tags how a cell's raw bytes should be interpreted, preserved
// per-cell the way the historical format carried a form/charset byte
// alongside every string cell.
type CellForm byte

const (
	FormUTF8 CellForm = iota
	FormHexNumber
	FormBinary
)

// Cell is one (token -> value) pair within a row.
type Cell struct {
	Token int64
	Form  CellForm
	Value []byte
}

// Row is a full set of cells sharing one object id within one table.
type Row struct {
	OID   uint32
	Cells map[int64]Cell
}

// StringCell returns the UTF-8 string cell for token, or "" if absent.
func (r *Row) StringCell(token int64) string {
	if c, ok := r.Cells[token]; ok {
		return string(c.Value)
	}
	return ""
}

// Uint32Cell returns the hex-encoded uint32 cell for token, or 0 if absent.
func (r *Row) Uint32Cell(token int64) uint32 {
	c, ok := r.Cells[token]
	if !ok {
		return 0
	}
	v, err := DecodeHex32(string(c.Value))
	if err != nil {
		return 0
	}
	return v
}

// Uint64Cell returns the hex-encoded uint64 cell for token, or 0 if absent.
func (r *Row) Uint64Cell(token int64) uint64 {
	c, ok := r.Cells[token]
	if !ok {
		return 0
	}
	v, err := DecodeHex64(string(c.Value))
	if err != nil {
		return 0
	}
	return v
}

// Table is one ordered table of rows within a Store: either the single
// all-messages table, the single all-threads table, or one per-thread
// table keyed by threadKey (§4.2.2).
type Table struct {
	store *Store
	ID    int64
	Kind  string
	Key   uint32
}

// OpenTable returns the table identified by (kind, key), creating it if it
// does not yet exist. Re-opening the same (kind, key) always returns the
// same underlying table.
func (s *Store) OpenTable(kind string, key uint32) (*Table, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM rs_tables WHERE kind = ? AND key = ?", kind, key).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := s.db.Exec("INSERT INTO rs_tables (kind, key) VALUES (?, ?)", kind, key)
		if err != nil {
			return nil, dberr.Wrap(dberr.StorageFailure, "create table", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, dberr.Wrap(dberr.StorageFailure, "create table", err)
		}
	} else if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "open table", err)
	}
	return &Table{store: s, ID: id, Kind: kind, Key: key}, nil
}

// ExistingTable looks up a table without creating it. Returns nil, nil if
// absent.
func (s *Store) ExistingTable(kind string, key uint32) (*Table, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM rs_tables WHERE kind = ? AND key = ?", kind, key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "look up table", err)
	}
	return &Table{store: s, ID: id, Kind: kind, Key: key}, nil
}

// ListTableKeys returns every key of tables with the given kind.
func (s *Store) ListTableKeys(kind string) ([]uint32, error) {
	rows, err := s.db.Query("SELECT key FROM rs_tables WHERE kind = ?", kind)
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "list tables", err)
	}
	defer rows.Close()
	var keys []uint32
	for rows.Next() {
		var k uint32
		if err := rows.Scan(&k); err != nil {
			return nil, dberr.Wrap(dberr.StorageFailure, "scan table key", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// DropTable removes a table and all of its rows. Used when a thread
// collapses to empty (§4.3).
func (s *Store) DropTable(kind string, key uint32) error {
	t, err := s.ExistingTable(kind, key)
	if err != nil || t == nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "drop table", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM rs_cells WHERE table_id = ?", t.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "drop table cells", err)
	}
	if _, err := tx.Exec("DELETE FROM rs_rows WHERE table_id = ?", t.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "drop table rows", err)
	}
	if _, err := tx.Exec("DELETE FROM rs_tables WHERE id = ?", t.ID); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "drop table", err)
	}
	return tx.Commit()
}

// AddRow inserts a new row with the given oid and cells. Idempotent: an
// existing (table, oid) row has its cells replaced rather than duplicated,
// satisfying the row store's "operations must be idempotent under repeat
// commit" contract.
func (t *Table) AddRow(oid uint32, cells map[int64]Cell) error {
	tx, err := t.store.db.Begin()
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "add row", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO rs_rows (table_id, oid) VALUES (?, ?) ON CONFLICT(table_id, oid) DO NOTHING",
		t.ID, oid,
	); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "insert row", err)
	}

	for tok, c := range cells {
		if _, err := tx.Exec(
			`INSERT INTO rs_cells (table_id, oid, token, form, value) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(table_id, oid, token) DO UPDATE SET form = excluded.form, value = excluded.value`,
			t.ID, oid, tok, int(c.Form), c.Value,
		); err != nil {
			return dberr.Wrap(dberr.StorageFailure, "insert cell", err)
		}
	}

	return tx.Commit()
}

// SetCell writes or overwrites a single cell on an existing row.
func (t *Table) SetCell(oid uint32, token int64, form CellForm, value []byte) error {
	_, err := t.store.db.Exec(
		`INSERT INTO rs_cells (table_id, oid, token, form, value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(table_id, oid, token) DO UPDATE SET form = excluded.form, value = excluded.value`,
		t.ID, oid, token, int(form), value,
	)
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "set cell", err)
	}
	return nil
}

// GetRow returns the row with the given oid, or nil if absent.
func (t *Table) GetRow(oid uint32) (*Row, error) {
	var exists int
	err := t.store.db.QueryRow("SELECT 1 FROM rs_rows WHERE table_id = ? AND oid = ?", t.ID, oid).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "get row", err)
	}

	rows, err := t.store.db.Query("SELECT token, form, value FROM rs_cells WHERE table_id = ? AND oid = ?", t.ID, oid)
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "get row cells", err)
	}
	defer rows.Close()

	r := &Row{OID: oid, Cells: make(map[int64]Cell)}
	for rows.Next() {
		var tok int64
		var form int
		var value []byte
		if err := rows.Scan(&tok, &form, &value); err != nil {
			return nil, dberr.Wrap(dberr.StorageFailure, "scan cell", err)
		}
		r.Cells[tok] = Cell{Token: tok, Form: CellForm(form), Value: value}
	}
	return r, nil
}

// GetRowByCell returns the first row (in OID order) whose cell for token
// equals value, or nil if none match. Used for small per-thread lookups
// (thread-subject matching); not indexed, so callers should not use this
// on the full all-messages table for large folders.
func (t *Table) GetRowByCell(token int64, value string) (*Row, error) {
	var oid uint32
	err := t.store.db.QueryRow(
		`SELECT oid FROM rs_cells WHERE table_id = ? AND token = ? AND value = ? ORDER BY oid ASC LIMIT 1`,
		t.ID, token, []byte(value),
	).Scan(&oid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.Wrap(dberr.StorageFailure, "get row by cell", err)
	}
	return t.GetRow(oid)
}

// DeleteRow removes a row and all of its cells.
func (t *Table) DeleteRow(oid uint32) error {
	tx, err := t.store.db.Begin()
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "delete row", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM rs_cells WHERE table_id = ? AND oid = ?", t.ID, oid); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "delete row cells", err)
	}
	if _, err := tx.Exec("DELETE FROM rs_rows WHERE table_id = ? AND oid = ?", t.ID, oid); err != nil {
		return dberr.Wrap(dberr.StorageFailure, "delete row", err)
	}
	return tx.Commit()
}

// RowCount returns the number of rows in the table.
func (t *Table) RowCount() (int, error) {
	var n int
	if err := t.store.db.QueryRow("SELECT COUNT(*) FROM rs_rows WHERE table_id = ?", t.ID).Scan(&n); err != nil {
		return 0, dberr.Wrap(dberr.StorageFailure, "count rows", err)
	}
	return n, nil
}
