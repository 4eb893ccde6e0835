package rowstore

import (
	"database/sql"

	"github.com/hkdb/aerion/internal/dberr"
)

// IterOrder selects the traversal order of a RowIterator.
type IterOrder int

const (
	// OrderInsertion walks rows in the order they were first added
	// (§4.1's "iterator over a table in insertion ... order").
	OrderInsertion IterOrder = iota
	// OrderOID walks rows sorted by object id.
	OrderOID
)

// RowIterator walks the rows of a table in insertion or OID order. It is
// restartable: calling Reset re-queries the table from its current state,
// so a new iteration sees rows added since the last pass.
type RowIterator struct {
	table *Table
	order IterOrder
	rows  *sql.Rows
	log   func(format string, args ...any)
}

// NewIterator returns a RowIterator over t in the given order.
func (t *Table) NewIterator(order IterOrder) *RowIterator {
	return &RowIterator{table: t, order: order}
}

// Reset (re)starts the iteration from the beginning.
func (it *RowIterator) Reset() error {
	if it.rows != nil {
		it.rows.Close()
		it.rows = nil
	}

	var query string
	switch it.order {
	case OrderOID:
		query = "SELECT oid FROM rs_rows WHERE table_id = ? ORDER BY oid ASC"
	default:
		query = "SELECT oid FROM rs_rows WHERE table_id = ? ORDER BY rowseq ASC"
	}

	rows, err := it.table.store.db.Query(query, it.table.ID)
	if err != nil {
		return dberr.Wrap(dberr.StorageFailure, "start row iterator", err)
	}
	it.rows = rows
	return nil
}

// Next advances the iterator and returns the next row. Returns nil, nil
// once exhausted. A row whose cells cannot be read is skipped with the
// error swallowed and logged, rather than aborting the whole iteration
// (§7: "an unreadable row must not prevent enumeration of the rest of the
// table").
func (it *RowIterator) Next() (*Row, error) {
	if it.rows == nil {
		if err := it.Reset(); err != nil {
			return nil, err
		}
	}

	for it.rows.Next() {
		var oid uint32
		if err := it.rows.Scan(&oid); err != nil {
			return nil, dberr.Wrap(dberr.StorageFailure, "scan iterator oid", err)
		}
		row, err := it.table.GetRow(oid)
		if err != nil {
			it.table.store.log.Warn().Err(err).Uint32("oid", oid).Msg("skipping unreadable row during iteration")
			continue
		}
		if row == nil {
			continue
		}
		return row, nil
	}
	return nil, it.rows.Err()
}

// Close releases the iterator's underlying cursor.
func (it *RowIterator) Close() error {
	if it.rows == nil {
		return nil
	}
	err := it.rows.Close()
	it.rows = nil
	return err
}
