package msgdb

import (
	"strings"
	"sync"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/logging"
	"github.com/hkdb/aerion/internal/rowstore"
	"github.com/rs/zerolog"
)

const summaryVersion = 1

// referencesSeparator joins a header's References list into a single cell
// value. RFC 5322 Message-IDs never contain whitespace, so a plain space
// is a safe, human-legible separator.
const referencesSeparator = " "

// DB is one open per-folder message summary database.
type DB struct {
	store *rowstore.Store
	tok   *tokens
	log   zerolog.Logger

	allMsgs   *rowstore.Table
	allThread *rowstore.Table

	mu       sync.Mutex
	use      *useCache
	hits     *hitCache
	listeners *listenerBus
	newset   *newSet
	refIndex map[string]MessageKey // messageId -> threadId, built on demand

	enumerators []*Enumerator
	offlineTok  *offlineTokens

	folderID     int64
	forceReparse bool
	closed       bool
	threadPrefs  ThreadingPreferences
}

// Open opens or creates the summary database at path (§4.2.4). If the
// file does not exist and create is false, returns dberr.SummaryMissing.
// If leaveInvalid is false and the stored version does not match, or the
// forceReparse meta flag is set, returns dberr.SummaryOutOfDate without
// handing back a usable DB; if leaveInvalid is true the caller gets the DB
// back anyway so it can migrate in place.
func Open(path string, create bool, leaveInvalid bool) (*DB, error) {
	store, err := rowstore.Open(path, create)
	if err != nil {
		return nil, err
	}

	tok, err := internFixedTokens(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	allMsgs, err := store.OpenTable(tableKindAllMessages, allMsgHdrsTableKey)
	if err != nil {
		store.Close()
		return nil, err
	}
	allThread, err := store.OpenTable(tableKindAllThreads, allMsgHdrsTableKey)
	if err != nil {
		store.Close()
		return nil, err
	}

	db := &DB{
		store:     store,
		tok:       tok,
		log:       logging.WithComponent("msgdb"),
		allMsgs:   allMsgs,
		allThread: allThread,
		use:       newUseCache(),
		hits:      newHitCache(DefaultHitCacheSize),
		listeners: &listenerBus{},
		newset:    newNewSet(),
	}

	versionRaw, versionFound, err := store.GetMeta("version")
	if err != nil {
		store.Close()
		return nil, err
	}
	forceReparseRaw, _, err := store.GetMeta("forceReparse")
	if err != nil {
		store.Close()
		return nil, err
	}
	db.forceReparse = forceReparseRaw == "1"

	outOfDate := db.forceReparse
	if versionFound {
		v, err := rowstore.DecodeHex32(versionRaw)
		if err == nil && v != summaryVersion {
			outOfDate = true
		}
	} else {
		if err := store.SetMeta("version", rowstore.EncodeHex32(summaryVersion)); err != nil {
			store.Close()
			return nil, err
		}
	}

	if outOfDate && !leaveInvalid {
		store.Close()
		return nil, dberr.New(dberr.SummaryOutOfDate, path)
	}

	return db, nil
}

// Path returns the database's underlying file path.
func (db *DB) Path() string { return db.store.Path() }

// SetFolderID stamps the folder registry id this summary database belongs
// to; every Header subsequently read or created carries it. Open itself
// takes only a path, since the row store has no notion of folder
// identity — the owner (dbservice) sets this once after Open succeeds.
func (db *DB) SetFolderID(id int64) { db.folderID = id }

// FolderID returns the folder registry id last set by SetFolderID.
func (db *DB) FolderID() int64 { return db.folderID }

// Commit flushes the database per kind (§4.2.4), auto-upgrading to
// CommitCompress when the store reports sufficient waste.
func (db *DB) Commit(kind rowstore.CommitKind) error {
	total, unread, err := db.countMessages()
	if err != nil {
		return err
	}
	counts := &rowstore.FolderCounts{TotalMessages: total, UnreadMessages: unread}
	if err := db.store.CommitAuto(kind, counts); err != nil {
		db.log.Error().Err(err).Msg("commit failed")
		return err
	}
	return nil
}

func (db *DB) countMessages() (total, unread int64, err error) {
	n, err := db.allMsgs.RowCount()
	if err != nil {
		return 0, 0, err
	}
	total = int64(n)

	it := db.allMsgs.NewIterator(rowstore.OrderOID)
	defer it.Close()
	for {
		row, err := it.Next()
		if err != nil {
			return 0, 0, err
		}
		if row == nil {
			break
		}
		flags := Flags(row.Uint32Cell(db.tok.flags))
		if flags&FlagRead == 0 {
			unread++
		}
	}
	return total, unread, nil
}

// ForceClosed invalidates all outstanding enumerators, notifies listeners
// that the DB is going away, flushes, and closes the underlying store.
// After ForceClosed, header creation, lookup, add, copy, delete and
// MarkAllRead return dberr.Invalidated, as do the invalidated enumerators;
// the other methods do not check whether db has been closed.
func (db *DB) ForceClosed() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.invalidateEnumerators()
	db.listeners.AnnounceGoingAway()
	db.use.Clear()

	if err := db.Commit(rowstore.CommitSession); err != nil {
		db.log.Warn().Err(err).Msg("commit during force-close failed")
	}
	return db.store.Close()
}

func (db *DB) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return dberr.New(dberr.Invalidated, "database is closed")
	}
	return nil
}

// CreateMsgHdr allocates a new header. If key is nil the store assigns the
// next integer; if the assigned key is near keyspace exhaustion, marks
// forceReparse on the folder info and returns dberr.SummaryOutOfDate along
// with the header (S6).
func (db *DB) CreateMsgHdr(key *MessageKey) (*Header, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var oid uint32
	if key != nil {
		oid = uint32(*key)
	} else {
		next, err := db.store.NextOID()
		if err != nil {
			return nil, err
		}
		oid = next
	}

	h := &Header{Key: MessageKey(oid), FolderID: db.folderID}

	if oid >= forceReparseKey {
		if err := db.setForceReparse(true); err != nil {
			return h, err
		}
		return h, dberr.New(dberr.SummaryOutOfDate, "message key space nearly exhausted")
	}

	return h, nil
}

func (db *DB) setForceReparse(v bool) error {
	db.forceReparse = v
	val := "0"
	if v {
		val = "1"
	}
	return db.store.SetMeta("forceReparse", val)
}

// ForceReparse reports whether the folder has been flagged for a forced
// reparse on next open.
func (db *DB) ForceReparse() bool { return db.forceReparse }

// headerToCells marshals h's fixed fields into row-store cells.
func (db *DB) headerToCells(h *Header) map[int64]rowstore.Cell {
	cells := map[int64]rowstore.Cell{
		db.tok.subject:    {Token: db.tok.subject, Form: rowstore.FormUTF8, Value: []byte(h.Subject)},
		db.tok.sender:     {Token: db.tok.sender, Form: rowstore.FormUTF8, Value: []byte(h.Sender)},
		db.tok.messageID:  {Token: db.tok.messageID, Form: rowstore.FormUTF8, Value: []byte(h.MessageID)},
		db.tok.references: {Token: db.tok.references, Form: rowstore.FormUTF8, Value: []byte(strings.Join(h.References, referencesSeparator))},
		db.tok.recipients: {Token: db.tok.recipients, Form: rowstore.FormUTF8, Value: []byte(h.Recipients)},
		db.tok.ccList:     {Token: db.tok.ccList, Form: rowstore.FormUTF8, Value: []byte(h.CcList)},
		db.tok.bccList:    {Token: db.tok.bccList, Form: rowstore.FormUTF8, Value: []byte(h.BccList)},
		db.tok.msgCharSet: {Token: db.tok.msgCharSet, Form: rowstore.FormUTF8, Value: []byte(h.Charset)},
		db.tok.date:       {Token: db.tok.date, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex64(uint64(h.Date)))},
		db.tok.size:       {Token: db.tok.size, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(h.MessageSize))},
		db.tok.flags:      {Token: db.tok.flags, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(uint32(h.Flags)))},
		db.tok.numLines:   {Token: db.tok.numLines, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(h.LineCount))},
		db.tok.threadID:   {Token: db.tok.threadID, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(uint32(h.ThreadID)))},
		db.tok.threadParent: {Token: db.tok.threadParent, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(uint32(h.ThreadParent)))},
		db.tok.msgOffset:       {Token: db.tok.msgOffset, Form: rowstore.FormUTF8, Value: []byte(h.StoreToken)},
		db.tok.offlineMsgSize:  {Token: db.tok.offlineMsgSize, Form: rowstore.FormHexNumber, Value: []byte(rowstore.EncodeHex32(h.OfflineSize))},
		db.tok.keywords:        {Token: db.tok.keywords, Form: rowstore.FormUTF8, Value: []byte(h.Tags)},
	}
	return cells
}

// rowToHeader reverses headerToCells, given the row's oid.
func (db *DB) rowToHeader(row *rowstore.Row) *Header {
	h := &Header{
		Key:          MessageKey(row.OID),
		FolderID:     db.folderID,
		Subject:      row.StringCell(db.tok.subject),
		Sender:       row.StringCell(db.tok.sender),
		MessageID:    row.StringCell(db.tok.messageID),
		Recipients:   row.StringCell(db.tok.recipients),
		CcList:       row.StringCell(db.tok.ccList),
		BccList:      row.StringCell(db.tok.bccList),
		Charset:      row.StringCell(db.tok.msgCharSet),
		Date:         int64(row.Uint64Cell(db.tok.date)),
		MessageSize:  row.Uint32Cell(db.tok.size),
		Flags:        Flags(row.Uint32Cell(db.tok.flags)),
		LineCount:    row.Uint32Cell(db.tok.numLines),
		ThreadID:     MessageKey(row.Uint32Cell(db.tok.threadID)),
		ThreadParent: MessageKey(row.Uint32Cell(db.tok.threadParent)),
		StoreToken:   row.StringCell(db.tok.msgOffset),
		OfflineSize:  row.Uint32Cell(db.tok.offlineMsgSize),
		Tags:         row.StringCell(db.tok.keywords),
	}
	if refs := row.StringCell(db.tok.references); refs != "" {
		h.References = strings.Split(refs, referencesSeparator)
	}
	return h
}
