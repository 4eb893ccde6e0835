package msgdb

import (
	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/metrics"
	"github.com/hkdb/aerion/internal/rowstore"
)

// AddNewHdrToDB threads the header, updates counters, appends it to the
// all-messages table and optionally notifies listeners (§4.2.4).
func (db *DB) AddNewHdrToDB(h *Header, notify bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	if existing, err := db.allMsgs.GetRow(uint32(h.Key)); err != nil {
		return err
	} else if existing != nil {
		return dberr.New(dberr.AlreadyExists, "message key already present")
	}

	parentKey, err := db.threadHeader(h)
	if err != nil {
		return err
	}

	if err := db.allMsgs.AddRow(uint32(h.Key), db.headerToCells(h)); err != nil {
		return err
	}
	db.use.GetOrInsert(h.Key, h)

	if thread, ok, terr := db.getThread(h.ThreadID); terr == nil && ok && thread.Flags&FlagIgnored != 0 {
		h.Flags |= FlagRead
		if err := db.allMsgs.SetCell(uint32(h.Key), db.tok.flags, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(h.Flags)))); err != nil {
			return err
		}
	} else if h.Flags&FlagRead == 0 {
		db.newset.Add(h.Key)
	}

	if db.refIndex != nil && h.MessageID != "" {
		db.refIndex[h.MessageID] = h.ThreadID
	}

	if notify {
		db.listeners.Dispatch(Event{Kind: EventHdrAdded, Header: h, ParentKey: parentKey, NewFlags: h.Flags})
	}
	metrics.HeadersAdded.Inc()
	return nil
}

// DeleteHeader is the reverse of AddNewHdrToDB: marks Expunged, removes the
// header from its thread (possibly reparenting siblings), decrements
// counters, drops it from the caches and emits HdrDeleted with the flags
// and threadParent captured before removal.
func (db *DB) DeleteHeader(h *Header, commit bool, notify bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	oldFlags := h.Flags
	oldParent := h.ThreadParent
	h.Flags |= FlagExpunged

	if err := db.removeFromThread(h); err != nil {
		return err
	}

	if err := db.allMsgs.DeleteRow(uint32(h.Key)); err != nil {
		return err
	}
	db.use.Remove(h.Key)
	db.hits.Remove(h.Key)
	db.newset.Remove(h.Key)

	if notify {
		db.listeners.Dispatch(Event{Kind: EventHdrDeleted, Header: h, OldFlags: oldFlags, ParentKey: oldParent})
	}
	metrics.HeadersDeleted.Inc()

	if commit {
		return db.Commit(rowstore.CommitSmall)
	}
	return nil
}

// CopyHdrFromExistingHdr materialises a new row in db initialised from a
// header read out of another DB (cross-folder move). If addToDB is false
// only the Header value is returned, not written to the store.
func (db *DB) CopyHdrFromExistingHdr(key MessageKey, src *Header, addToDB bool) (*Header, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	copyHdr := *src
	copyHdr.Key = key
	copyHdr.FolderID = db.folderID
	copyHdr.stringProps = nil
	copyHdr.uint32Props = nil

	if addToDB {
		if err := db.allMsgs.AddRow(uint32(key), db.headerToCells(&copyHdr)); err != nil {
			return nil, err
		}
		db.use.GetOrInsert(key, &copyHdr)
	}
	return &copyHdr, nil
}

// GetMsgHdrForKey looks up a header by key, consulting the use cache
// first so repeated lookups of the same key return the identical object.
func (db *DB) GetMsgHdrForKey(key MessageKey) (*Header, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if h, ok := db.use.Get(key); ok {
		db.hits.Touch(key)
		return h, nil
	}

	row, err := db.allMsgs.GetRow(uint32(key))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, dberr.New(dberr.MessageNotFound, "no such message key")
	}

	h := db.rowToHeader(row)
	h = db.use.GetOrInsert(key, h)
	db.hits.Touch(key)
	return h, nil
}

// GetMsgHdrForMessageID looks up a header by its RFC 5322 Message-ID,
// scanning the all-messages table for a matching cell value. The use
// cache is still consulted via GetMsgHdrForKey once the key is known, so
// identity is preserved.
func (db *DB) GetMsgHdrForMessageID(messageID string) (*Header, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	it := db.allMsgs.NewIterator(rowstore.OrderOID)
	defer it.Close()
	for {
		row, err := it.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		if row.StringCell(db.tok.messageID) == messageID {
			return db.GetMsgHdrForKey(MessageKey(row.OID))
		}
	}
	return nil, dberr.New(dberr.MessageNotFound, "no message with that message-id")
}

// GetMsgHdrForGMMsgID is an alias kept for the external-identifier lookup
// contract (§4.2.4); this implementation has no separate Gmail-message-id
// cell, so it delegates to Message-ID lookup.
func (db *DB) GetMsgHdrForGMMsgID(gmMsgID string) (*Header, error) {
	return db.GetMsgHdrForMessageID(gmMsgID)
}

func (db *DB) setFlags(h *Header, newFlags Flags) error {
	oldFlags := h.Flags
	wasUnread := oldFlags&FlagRead == 0
	h.Flags = newFlags
	isUnread := newFlags&FlagRead == 0

	if err := db.allMsgs.SetCell(uint32(h.Key), db.tok.flags, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(newFlags)))); err != nil {
		h.Flags = oldFlags
		return err
	}

	if _, ok := db.use.Get(h.Key); ok {
		db.listeners.Dispatch(Event{Kind: EventHdrFlagsChanged, Header: h, OldFlags: oldFlags, NewFlags: newFlags})
		if wasUnread != isUnread {
			db.listeners.Dispatch(Event{Kind: EventReadChanged, Header: h, OldFlags: oldFlags, NewFlags: newFlags})
		}
	}
	return nil
}

func markBit(db *DB, h *Header, bit Flags, set bool) error {
	newFlags := h.Flags
	if set {
		newFlags |= bit
	} else {
		newFlags &^= bit
	}
	if newFlags == h.Flags {
		return nil
	}
	return db.setFlags(h, newFlags)
}

func (db *DB) MarkRead(h *Header, read bool) error           { return markBit(db, h, FlagRead, read) }
func (db *DB) MarkMarked(h *Header, marked bool) error        { return markBit(db, h, FlagMarked, marked) }
func (db *DB) MarkReplied(h *Header, v bool) error            { return markBit(db, h, FlagReplied, v) }
func (db *DB) MarkForwarded(h *Header, v bool) error          { return markBit(db, h, FlagForwarded, v) }
func (db *DB) MarkRedirected(h *Header, v bool) error         { return markBit(db, h, FlagRedirected, v) }
func (db *DB) MarkHasAttachments(h *Header, v bool) error     { return markBit(db, h, FlagHasAttachment, v) }
func (db *DB) MarkOffline(h *Header, v bool) error            { return markBit(db, h, FlagOffline, v) }
func (db *DB) MarkImapDeleted(h *Header, v bool) error         { return markBit(db, h, FlagIMAPDeleted, v) }
func (db *DB) MarkMDNSent(h *Header, v bool) error             { return markBit(db, h, FlagMDNReportSent, v) }
func (db *DB) MarkMDNNeeded(h *Header, v bool) error           { return markBit(db, h, FlagMDNReportNeeded, v) }
func (db *DB) MarkKilled(h *Header, v bool) error              { return markBit(db, h, FlagIgnored, v) }

// MarkThreadRead marks every child of the thread containing h as read,
// then emits a single HdrFlagsChanged against the thread root.
func (db *DB) MarkThreadRead(h *Header) ([]MessageKey, error) {
	return db.markThreadBit(h, FlagRead, true)
}

// MarkThreadIgnored marks the thread's FlagIgnored bit. Unlike
// MarkThreadRead, this does not touch any child message's own flags —
// only new arrivals consult it (AddNewHdrToDB auto-reads into an ignored
// thread).
func (db *DB) MarkThreadIgnored(h *Header, v bool) error {
	return db.setThreadFlag(h.ThreadID, FlagIgnored, v)
}

// MarkThreadWatched marks the thread's FlagWatched bit.
func (db *DB) MarkThreadWatched(h *Header, v bool) error {
	return db.setThreadFlag(h.ThreadID, FlagWatched, v)
}

func (db *DB) markThreadBit(h *Header, bit Flags, set bool) ([]MessageKey, error) {
	thread, ok, err := db.getThread(h.ThreadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var changed []MessageKey
	for _, childKey := range thread.Children {
		child, err := db.GetMsgHdrForKey(childKey)
		if err != nil {
			db.log.Warn().Err(err).Msg("skipping unreadable thread child during bulk mark")
			continue
		}
		before := child.Flags
		newFlags := before
		if set {
			newFlags |= bit
		} else {
			newFlags &^= bit
		}
		if newFlags == before {
			continue
		}
		// Written without setFlags so that no per-child event is dispatched.
		child.Flags = newFlags
		if err := db.allMsgs.SetCell(uint32(childKey), db.tok.flags, rowstore.FormHexNumber, []byte(rowstore.EncodeHex32(uint32(newFlags)))); err != nil {
			child.Flags = before
			return changed, err
		}
		changed = append(changed, childKey)
	}

	root, err := db.GetMsgHdrForKey(thread.RootKey)
	if err == nil {
		db.listeners.Dispatch(Event{Kind: EventHdrFlagsChanged, Header: root, NewFlags: root.Flags})
	}
	return changed, nil
}

// MarkAllRead marks every currently-unread message in the DB read,
// returning exactly the keys that transitioned.
func (db *DB) MarkAllRead() ([]MessageKey, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	it := db.allMsgs.NewIterator(rowstore.OrderOID)
	defer it.Close()

	var changed []MessageKey
	for {
		row, err := it.Next()
		if err != nil {
			return changed, err
		}
		if row == nil {
			break
		}
		key := MessageKey(row.OID)
		h, err := db.GetMsgHdrForKey(key)
		if err != nil {
			continue
		}
		if h.Flags&FlagRead != 0 {
			continue
		}
		if err := db.MarkRead(h, true); err != nil {
			return changed, err
		}
		changed = append(changed, key)
	}
	return changed, nil
}

// MarkHdrNotNew removes h's key from the folder's new-set.
func (db *DB) MarkHdrNotNew(h *Header) {
	db.newset.Remove(h.Key)
}

// NewKeys returns the current new-set, sorted ascending.
func (db *DB) NewKeys() []MessageKey { return db.newset.Keys() }

// ClearNewList empties the new-set and, if notify, re-emits
// HdrFlagsChanged for each cleared key so views can redraw.
func (db *DB) ClearNewList(notify bool) {
	cleared := db.newset.Clear()
	if !notify {
		return
	}
	for _, key := range cleared {
		h, err := db.GetMsgHdrForKey(key)
		if err != nil {
			continue
		}
		db.listeners.Dispatch(Event{Kind: EventHdrFlagsChanged, Header: h, NewFlags: h.Flags})
	}
}

// SetStringProperty writes a generic free-form property at row level. A
// pre-change notification carries the opaque status a listener returns;
// that same value is threaded into the matching post-change notification.
func (db *DB) SetStringProperty(h *Header, name, value string) error {
	old := h.StringProperty(name)
	status := db.listeners.Dispatch(Event{Kind: EventHdrPropertyChanged, Header: h, PropertyName: name, OldValue: old})

	h.setStringProperty(name, value)
	cellName := "prop:" + name
	tok, err := db.store.InternToken(cellName)
	if err != nil {
		return err
	}
	if err := db.allMsgs.SetCell(uint32(h.Key), tok, rowstore.FormUTF8, []byte(value)); err != nil {
		return err
	}

	db.listeners.Dispatch(Event{Kind: EventHdrPropertyChanged, Header: h, PropertyName: name, OldValue: old, NewValue: value, PreStatus: status})
	return nil
}

// AddListener registers l to receive change events, by reference.
func (db *DB) AddListener(l Listener) { db.listeners.Add(l) }

// RemoveListener deregisters l.
func (db *DB) RemoveListener(l Listener) { db.listeners.Remove(l) }

// BuildReferencesIndex populates the on-demand Message-ID -> threadId
// index used by reverse-reference threading, scanning the whole
// all-messages table once.
func (db *DB) BuildReferencesIndex() error {
	if db.refIndex != nil {
		return nil
	}
	idx := make(map[string]MessageKey)
	it := db.allMsgs.NewIterator(rowstore.OrderOID)
	defer it.Close()
	for {
		row, err := it.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		if mid := row.StringCell(db.tok.messageID); mid != "" {
			idx[mid] = MessageKey(row.Uint32Cell(db.tok.threadID))
		}
	}
	db.refIndex = idx
	return nil
}
