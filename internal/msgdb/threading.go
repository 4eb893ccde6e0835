package msgdb

import (
	"github.com/hkdb/aerion/internal/metrics"
	"github.com/hkdb/aerion/internal/rowstore"
)

// ThreadingPreferences gates the optional fallback stages of the
// threading algorithm (§4.3). Zero value matches the historical defaults:
// subject threading enabled, strict-reference mode off, reverse-reference
// ("correct threading") off.
type ThreadingPreferences struct {
	StrictThreading          bool
	ThreadBySubjectWithoutRe bool
	CorrectThreading         bool
}

// SetThreadingPreferences installs the preferences used by subsequent
// AddNewHdrToDB calls.
func (db *DB) SetThreadingPreferences(p ThreadingPreferences) { db.threadPrefs = p }

// threadHeader attempts reference threading, then subject threading
// (unless strict mode), then reverse-reference threading (if enabled),
// falling back to a new thread. Returns the key of the parent the header
// was attached under, or 0 for a new thread.
func (db *DB) threadHeader(h *Header) (MessageKey, error) {
	if parent, attached, err := db.threadByReference(h); err != nil {
		return 0, err
	} else if attached {
		return parent, nil
	}

	if !db.threadPrefs.StrictThreading {
		if parent, attached, err := db.threadBySubject(h); err != nil {
			return 0, err
		} else if attached {
			return parent, nil
		}
	}

	if db.threadPrefs.CorrectThreading {
		if parent, attached, err := db.threadByReverseReference(h); err != nil {
			return 0, err
		} else if attached {
			return parent, nil
		}
	}

	return 0, db.startNewThread(h)
}

// threadByReference walks h.References from last to first looking for an
// existing message with a matching Message-ID.
func (db *DB) threadByReference(h *Header) (MessageKey, bool, error) {
	for i := len(h.References) - 1; i >= 0; i-- {
		ref := h.References[i]
		if ref == "" {
			continue
		}
		found, err := db.GetMsgHdrForMessageID(ref)
		if err != nil {
			continue // no message with that id yet; try the next reference
		}
		if found.Key == h.Key {
			// Self-reference: the references list is unusable for threading.
			h.References = nil
			continue
		}
		if err := db.attachToThread(h, found.ThreadID, found.Key); err != nil {
			return 0, false, err
		}
		metrics.ThreadAttachments.WithLabelValues("reference").Inc()
		return found.Key, true, nil
	}
	return 0, false, nil
}

// threadBySubject strips reply markers and compares the remainder against
// the cached subject of an existing thread.
func (db *DB) threadBySubject(h *Header) (MessageKey, bool, error) {
	if !db.threadPrefs.ThreadBySubjectWithoutRe && h.Flags&FlagHasRe == 0 {
		return 0, false, nil
	}

	stripped := StripRe(h.Subject)
	if stripped == "" {
		return 0, false, nil
	}

	row, err := db.allThread.GetRowByCell(db.tok.threadSubject, stripped)
	if err != nil || row == nil {
		return 0, false, err
	}
	threadKey := MessageKey(row.OID)
	rootKey := MessageKey(row.Uint32Cell(db.tok.threadRoot))
	if err := db.attachToThread(h, threadKey, rootKey); err != nil {
		return 0, false, err
	}
	metrics.ThreadAttachments.WithLabelValues("subject").Inc()
	return rootKey, true, nil
}

// threadByReverseReference looks for an existing message that lists h's
// own Message-ID as a reference: the new header becomes that message's
// parent.
func (db *DB) threadByReverseReference(h *Header) (MessageKey, bool, error) {
	if h.MessageID == "" {
		return 0, false, nil
	}
	if err := db.BuildReferencesIndex(); err != nil {
		return 0, false, err
	}

	it := db.allMsgs.NewIterator(rowstore.OrderOID)
	defer it.Close()
	for {
		row, err := it.Next()
		if err != nil {
			return 0, false, err
		}
		if row == nil {
			break
		}
		refs := row.StringCell(db.tok.references)
		if !containsReference(refs, h.MessageID) {
			continue
		}
		child := MessageKey(row.OID)
		childThread := MessageKey(row.Uint32Cell(db.tok.threadID))
		if err := db.promoteToRoot(h, childThread, child); err != nil {
			return 0, false, err
		}
		metrics.ThreadAttachments.WithLabelValues("reverse_reference").Inc()
		return h.ThreadParent, true, nil
	}
	return 0, false, nil
}

func containsReference(refs, target string) bool {
	for _, r := range splitReferences(refs) {
		if r == target {
			return true
		}
	}
	return false
}

func splitReferences(refs string) []string {
	if refs == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(refs); i++ {
		if i == len(refs) || refs[i] == ' ' {
			if i > start {
				out = append(out, refs[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// attachToThread sets h's thread linkage to an existing thread and runs
// the shared AddToThread primitive.
func (db *DB) attachToThread(h *Header, threadKey, parentKey MessageKey) error {
	h.ThreadID = threadKey
	h.ThreadParent = parentKey
	return db.addToThread(h, threadKey)
}

// promoteToRoot makes h the new root of an existing thread, because h was
// discovered to be the missing parent of one of the thread's members.
func (db *DB) promoteToRoot(h *Header, threadKey, oldChildKey MessageKey) error {
	h.ThreadID = threadKey
	h.ThreadParent = 0
	if err := db.addToThread(h, threadKey); err != nil {
		return err
	}
	if child, err := db.GetMsgHdrForKey(oldChildKey); err == nil && child.ThreadParent == 0 {
		child.ThreadParent = h.Key
		return db.allMsgs.SetCell(uint32(child.Key), db.tok.threadParent, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(h.Key))))
	}
	return nil
}

// startNewThread gives h a fresh thread rooted at its own key, substituting
// tableKeyForThreadOne for the reserved key 1.
func (db *DB) startNewThread(h *Header) error {
	threadKey := MessageKey(h.Key)
	if threadKey == 1 {
		threadKey = MessageKey(tableKeyForThreadOne)
	}
	h.ThreadID = threadKey
	h.ThreadParent = 0
	metrics.ThreadsCreated.Inc()
	return db.addToThread(h, threadKey)
}

// addToThread is the single primitive every threading fallback funnels
// through: it appends the child to the thread's per-thread table and
// updates the thread's counters, newestMsgDate and unread count (§4.3).
func (db *DB) addToThread(h *Header, threadKey MessageKey) error {
	childTable, err := db.store.OpenTable(tableKindThread, uint32(threadKey))
	if err != nil {
		return err
	}
	if err := childTable.AddRow(uint32(h.Key), nil); err != nil {
		return err
	}

	row, err := db.allThread.GetRow(uint32(threadKey))
	if err != nil {
		return err
	}

	var numChildren, unreadChildren uint32
	var newestDate uint64
	var rootKey MessageKey
	var threadFlags Flags
	stripped := StripRe(h.Subject)

	if row == nil {
		rootKey = h.Key
		numChildren = 0
		unreadChildren = 0
		newestDate = 0
	} else {
		threadFlags = Flags(row.Uint32Cell(db.tok.threadFlags))
		numChildren = row.Uint32Cell(db.tok.children)
		unreadChildren = row.Uint32Cell(db.tok.unreadChildren)
		newestDate = row.Uint64Cell(db.tok.threadNewestMsgDate)
		rootKey = MessageKey(row.Uint32Cell(db.tok.threadRoot))
		if s := row.StringCell(db.tok.threadSubject); s != "" {
			stripped = s
		}
	}

	numChildren++
	if h.Flags&FlagRead == 0 {
		unreadChildren++
	}
	if uint64(h.Date) > newestDate {
		newestDate = uint64(h.Date)
	}

	cells := map[int64]rowstore.Cell{
		db.tok.children:            {Token: db.tok.children, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(numChildren))},
		db.tok.unreadChildren:      {Token: db.tok.unreadChildren, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(unreadChildren))},
		db.tok.threadNewestMsgDate: {Token: db.tok.threadNewestMsgDate, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex64(newestDate))},
		db.tok.threadSubject:       {Token: db.tok.threadSubject, Form: rowstore.FormUTF8, Value: []byte(stripped)},
		db.tok.threadRoot:          {Token: db.tok.threadRoot, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(uint32(rootKey)))},
		db.tok.threadFlags:         {Token: db.tok.threadFlags, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(uint32(threadFlags)))},
	}

	if row == nil {
		return db.allThread.AddRow(uint32(threadKey), cells)
	}
	for tok, c := range cells {
		if err := db.allThread.SetCell(uint32(threadKey), tok, c.Form, c.Value); err != nil {
			return err
		}
	}
	return nil
}

// getThread materialises a Thread value from the all-threads row plus its
// per-thread child table, in insertion order.
func (db *DB) getThread(threadKey MessageKey) (Thread, bool, error) {
	row, err := db.allThread.GetRow(uint32(threadKey))
	if err != nil {
		return Thread{}, false, err
	}
	if row == nil {
		return Thread{}, false, nil
	}

	childTable, err := db.store.ExistingTable(tableKindThread, uint32(threadKey))
	if err != nil {
		return Thread{}, false, err
	}

	var children []MessageKey
	if childTable != nil {
		it := childTable.NewIterator(rowstore.OrderInsertion)
		defer it.Close()
		for {
			childRow, err := it.Next()
			if err != nil {
				return Thread{}, false, err
			}
			if childRow == nil {
				break
			}
			children = append(children, MessageKey(childRow.OID))
		}
	}

	return Thread{
		ThreadKey:         threadKey,
		RootKey:           MessageKey(row.Uint32Cell(db.tok.threadRoot)),
		Children:          children,
		Flags:             Flags(row.Uint32Cell(db.tok.threadFlags)),
		NumChildren:       int(row.Uint32Cell(db.tok.children)),
		NumUnreadChildren: int(row.Uint32Cell(db.tok.unreadChildren)),
		NewestMsgDate:     int64(row.Uint64Cell(db.tok.threadNewestMsgDate)),
		Subject:           row.StringCell(db.tok.threadSubject),
	}, true, nil
}

// setThreadFlag sets or clears a thread-level flag bit directly on the
// all-threads row, writing only when the bit changes. It does nothing if
// the row does not exist (the row always exists once a thread has at
// least one message, which setThreadFlag's only callers require).
func (db *DB) setThreadFlag(threadKey MessageKey, bit Flags, set bool) error {
	thread, ok, err := db.getThread(threadKey)
	if err != nil || !ok {
		return err
	}
	newFlags := thread.Flags
	if set {
		newFlags |= bit
	} else {
		newFlags &^= bit
	}
	if newFlags == thread.Flags {
		return nil
	}
	return db.allThread.SetCell(uint32(threadKey), db.tok.threadFlags, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(newFlags))))
}

// removeFromThread cuts h out of its thread. If h is the thread's root and
// has children, one child is promoted to root and the rest reparented to
// it; if the thread becomes empty it is collapsed entirely.
func (db *DB) removeFromThread(h *Header) error {
	thread, ok, err := db.getThread(h.ThreadID)
	if err != nil || !ok {
		return err
	}

	childTable, err := db.store.ExistingTable(tableKindThread, uint32(h.ThreadID))
	if err != nil {
		return err
	}
	if childTable != nil {
		if err := childTable.DeleteRow(uint32(h.Key)); err != nil {
			return err
		}
	}

	remaining := make([]MessageKey, 0, len(thread.Children))
	for _, c := range thread.Children {
		if c != h.Key {
			remaining = append(remaining, c)
		}
	}

	if len(remaining) == 0 {
		if err := db.store.DropTable(tableKindThread, uint32(h.ThreadID)); err != nil {
			return err
		}
		return db.allThread.DeleteRow(uint32(h.ThreadID))
	}

	if h.Key == thread.RootKey {
		newRoot := remaining[0]
		if err := db.allThread.SetCell(uint32(h.ThreadID), db.tok.threadRoot, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(newRoot)))); err != nil {
			return err
		}
		for _, c := range remaining[1:] {
			child, err := db.GetMsgHdrForKey(c)
			if err != nil {
				continue
			}
			if child.ThreadParent == h.Key {
				child.ThreadParent = newRoot
				if err := db.allMsgs.SetCell(uint32(c), db.tok.threadParent, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(newRoot)))); err != nil {
					return err
				}
			}
		}
	}

	numChildren := uint32(len(remaining))
	return db.allThread.SetCell(uint32(h.ThreadID), db.tok.children, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(numChildren)))
}
