package msgdb

import (
	"sync"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/rowstore"
)

// FilterTerm is a single user-supplied predicate tested against a
// materialised *Header; GetFilterEnumerator composes a set of these with
// AND semantics.
type FilterTerm func(h *Header) bool

// Enumerator is a lazy, restartable iterator over a DB's all-messages
// table. It is registered with the owning DB and invalidated on
// ForceClosed; using an invalidated enumerator returns dberr.Invalidated
// ("Failure" in the historical contract).
type Enumerator struct {
	db      *DB
	it      *rowstore.RowIterator
	filters []FilterTerm

	reversed   []MessageKey
	reverseIdx int

	mu          sync.Mutex
	invalidated bool
}

func (db *DB) newEnumerator(order rowstore.IterOrder, filters []FilterTerm) *Enumerator {
	e := &Enumerator{
		db:      db,
		it:      db.allMsgs.NewIterator(order),
		filters: filters,
	}
	db.registerEnumerator(e)
	return e
}

// EnumerateMessages returns a forward (insertion-order) enumerator over
// every message in the DB.
func (db *DB) EnumerateMessages() *Enumerator {
	return db.newEnumerator(rowstore.OrderOID, nil)
}

// ReverseEnumerateMessages returns a backward enumerator. The underlying
// row store only walks forward, so this buffers OIDs once up front, which
// is acceptable for a per-folder summary's message count.
func (db *DB) ReverseEnumerateMessages() (*Enumerator, error) {
	e := db.newEnumerator(rowstore.OrderOID, nil)
	return e, e.reverse()
}

// GetFilterEnumerator returns a forward enumerator that additionally
// requires every term in terms to match (AND semantics), skipping
// non-matching rows transparently.
func (db *DB) GetFilterEnumerator(terms []FilterTerm) *Enumerator {
	return db.newEnumerator(rowstore.OrderOID, terms)
}

func (e *Enumerator) reverse() error {
	var keys []MessageKey
	for {
		row, err := e.it.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		keys = append(keys, MessageKey(row.OID))
	}
	e.it.Close()
	e.it = nil
	e.reversed = keys
	for i, j := 0, len(e.reversed)-1; i < j; i, j = i+1, j-1 {
		e.reversed[i], e.reversed[j] = e.reversed[j], e.reversed[i]
	}
	return nil
}

// Next advances the enumerator, skipping rows that fail its filter terms.
// Returns nil, nil once exhausted; returns dberr.Invalidated if the owning
// DB has been ForceClosed since this enumerator was created.
func (e *Enumerator) Next() (*Header, error) {
	e.mu.Lock()
	invalid := e.invalidated
	e.mu.Unlock()
	if invalid {
		return nil, dberr.New(dberr.Invalidated, "enumerator invalidated by ForceClosed")
	}

	for {
		var key MessageKey
		var ok bool

		if e.reversed != nil {
			if e.reverseIdx >= len(e.reversed) {
				return nil, nil
			}
			key = e.reversed[e.reverseIdx]
			e.reverseIdx++
			ok = true
		} else {
			row, err := e.it.Next()
			if err != nil {
				return nil, err
			}
			if row == nil {
				return nil, nil
			}
			key = MessageKey(row.OID)
			ok = true
		}

		if !ok {
			return nil, nil
		}

		h, err := e.db.GetMsgHdrForKey(key)
		if err != nil {
			e.db.log.Warn().Err(err).Msg("skipping unreadable row during enumeration")
			continue
		}

		matched := true
		for _, f := range e.filters {
			if !f(h) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		return h, nil
	}
}

// Close releases the enumerator's cursor and deregisters it from the DB.
func (e *Enumerator) Close() {
	if e.it != nil {
		e.it.Close()
	}
	e.db.deregisterEnumerator(e)
}

func (e *Enumerator) invalidate() {
	e.mu.Lock()
	e.invalidated = true
	e.mu.Unlock()
}

func (db *DB) registerEnumerator(e *Enumerator) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.enumerators = append(db.enumerators, e)
}

func (db *DB) deregisterEnumerator(e *Enumerator) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := db.enumerators[:0]
	for _, existing := range db.enumerators {
		if existing != e {
			out = append(out, existing)
		}
	}
	db.enumerators = out
}

// invalidateEnumerators marks every currently registered enumerator
// invalidated, called from ForceClosed.
func (db *DB) invalidateEnumerators() {
	db.mu.Lock()
	snapshot := make([]*Enumerator, len(db.enumerators))
	copy(snapshot, db.enumerators)
	db.enumerators = nil
	db.mu.Unlock()

	for _, e := range snapshot {
		e.invalidate()
	}
}
