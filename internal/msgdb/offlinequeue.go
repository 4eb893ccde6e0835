package msgdb

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hkdb/aerion/internal/rowstore"
)

const offlineQueueTableKind = "offlineops"

// offlineQueueTableKey is the fixed OID the single per-folder offline
// operation queue lives under, mirroring allMsgHdrsTableKey's role for the
// all-messages table.
const offlineQueueTableKey uint32 = 1

// offlineTokens are interned on first use rather than at Open, since most
// folders never queue an offline operation.
type offlineTokens struct {
	id          int64
	kind        int64
	keys        int64
	destination int64
}

func (db *DB) offlineQueueTable() (*rowstore.Table, *offlineTokens, error) {
	db.mu.Lock()
	tok := db.offlineTok
	db.mu.Unlock()
	if tok == nil {
		id, err := db.store.InternToken("offlineOpId")
		if err != nil {
			return nil, nil, err
		}
		kind, err := db.store.InternToken("offlineOpKind")
		if err != nil {
			return nil, nil, err
		}
		keys, err := db.store.InternToken("offlineOpKeys")
		if err != nil {
			return nil, nil, err
		}
		dest, err := db.store.InternToken("offlineOpDestination")
		if err != nil {
			return nil, nil, err
		}
		tok = &offlineTokens{id: id, kind: kind, keys: keys, destination: dest}
		db.mu.Lock()
		db.offlineTok = tok
		db.mu.Unlock()
	}

	table, err := db.store.OpenTable(offlineQueueTableKind, offlineQueueTableKey)
	if err != nil {
		return nil, nil, err
	}
	return table, tok, nil
}

// EnqueueOfflineOperation persists a queued mutation (move/copy/flag-change)
// to replay once the server is next reachable (§3.1 "Offline Operation").
// op.FolderID is stamped from the database's own folder id; the operation
// is assigned a fresh id.
func (db *DB) EnqueueOfflineOperation(op OfflineOperation) (OfflineOperation, error) {
	if err := db.checkOpen(); err != nil {
		return OfflineOperation{}, err
	}

	table, tok, err := db.offlineQueueTable()
	if err != nil {
		return OfflineOperation{}, err
	}

	op.FolderID = db.folderID
	op.ID = uuid.New().String()

	oid, err := db.store.NextOID()
	if err != nil {
		return OfflineOperation{}, err
	}

	keyStrs := make([]string, len(op.Keys))
	for i, k := range op.Keys {
		keyStrs[i] = strconv.FormatUint(uint64(k), 10)
	}

	cells := map[int64]rowstore.Cell{
		tok.id:          {Token: tok.id, Form: rowstore.FormUTF8, Value: []byte(op.ID)},
		tok.kind:        {Token: tok.kind, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(uint32(op.Kind)))},
		tok.keys:        {Token: tok.keys, Form: rowstore.FormUTF8, Value: []byte(strings.Join(keyStrs, referencesSeparator))},
		tok.destination: {Token: tok.destination, Form: rowstore.FormUTF8, Value: []byte(op.Destination)},
	}
	if err := table.AddRow(oid, cells); err != nil {
		return OfflineOperation{}, err
	}
	if err := db.Commit(rowstore.CommitSession); err != nil {
		return OfflineOperation{}, err
	}
	return op, nil
}

// OfflineOperations returns every queued operation for this folder, in the
// order they were enqueued.
func (db *DB) OfflineOperations() ([]OfflineOperation, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	table, tok, err := db.offlineQueueTable()
	if err != nil {
		return nil, err
	}

	it := table.NewIterator(rowstore.OrderOID)
	defer it.Close()

	var ops []OfflineOperation
	for {
		row, err := it.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		ops = append(ops, rowToOfflineOperation(row, tok, db.folderID))
	}
	return ops, nil
}

func rowToOfflineOperation(row *rowstore.Row, tok *offlineTokens, folderID int64) OfflineOperation {
	op := OfflineOperation{
		FolderID:    folderID,
		ID:          row.StringCell(tok.id),
		Kind:        OfflineOperationKind(row.Uint32Cell(tok.kind)),
		Destination: row.StringCell(tok.destination),
	}
	if raw := row.StringCell(tok.keys); raw != "" {
		for _, s := range strings.Split(raw, referencesSeparator) {
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				continue
			}
			op.Keys = append(op.Keys, MessageKey(n))
		}
	}
	return op
}

// DequeueOfflineOperation removes a completed or abandoned operation from
// the queue by id.
func (db *DB) DequeueOfflineOperation(id string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	table, tok, err := db.offlineQueueTable()
	if err != nil {
		return err
	}

	it := table.NewIterator(rowstore.OrderOID)
	defer it.Close()
	for {
		row, err := it.Next()
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		if row.StringCell(tok.id) == id {
			return table.DeleteRow(row.OID)
		}
	}
}
