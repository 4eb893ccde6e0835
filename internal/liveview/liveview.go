package liveview

import (
	"sort"
	"sync"
	"time"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/metrics"
	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/hkdb/aerion/internal/registry"
)

// Message is the JS-ready projection SelectMessages returns (§4.5.2).
type Message struct {
	ID        msgdb.MessageKey `json:"id"`
	FolderID  int64            `json:"folderId"`
	MessageID string           `json:"messageId"`
	Date      int64            `json:"date"`
	Sender    string           `json:"sender"`
	Subject   string           `json:"subject"`
	Flags     msgdb.Flags      `json:"flags"`
	Tags      string           `json:"tags"`
}

func toMessage(h *msgdb.Header) Message {
	return Message{
		ID:        h.Key,
		FolderID:  h.FolderID,
		MessageID: h.MessageID,
		Date:      h.Date,
		Sender:    h.Sender,
		Subject:   h.Subject,
		Flags:     h.Flags,
		Tags:      h.Tags,
	}
}

// Listener receives a LiveView's match-transition notifications. A
// LiveView accepts exactly one (§4.5.2).
type Listener interface {
	MessageAdded(h *msgdb.Header)
	MessageRemoved(h *msgdb.Header)
}

// LiveView is a declarative, incrementally-notified query over the
// message universe spanning one or more open per-folder databases. Counts
// and selections are always recomputed on demand against the underlying
// store (§4.5.3); only the add/remove notification is incremental.
type LiveView struct {
	dbs    []*msgdb.DB
	filter func(h *msgdb.Header) bool

	mu       sync.Mutex
	listener Listener
	bridges  map[*msgdb.DB]*dbBridge
	matched  map[*msgdb.DB]map[msgdb.MessageKey]bool
}

func newLiveView(dbs []*msgdb.DB, filter func(h *msgdb.Header) bool) *LiveView {
	return &LiveView{
		dbs:     dbs,
		filter:  filter,
		bridges: make(map[*msgdb.DB]*dbBridge),
		matched: make(map[*msgdb.DB]map[msgdb.MessageKey]bool),
	}
}

// NewFolderView builds a LiveView matching every message in a single
// folder (construction mode 1, §4.5).
func NewFolderView(db *msgdb.DB) *LiveView {
	return newLiveView([]*msgdb.DB{db}, nil)
}

// NewMultiFolderView builds a LiveView matching every message across an
// explicit set of folders (construction mode 2, §4.5).
func NewMultiFolderView(dbs []*msgdb.DB) *LiveView {
	return newLiveView(append([]*msgdb.DB(nil), dbs...), nil)
}

// NewTagView builds a LiveView matching messages across dbs whose tag set
// contains tag (construction mode 3, §4.5).
func NewTagView(dbs []*msgdb.DB, tag string) *LiveView {
	return newLiveView(append([]*msgdb.DB(nil), dbs...), func(h *msgdb.Header) bool {
		return tagsIncludeToken(h.Tags, tag)
	})
}

// NewVirtualFolderView builds a LiveView from an already-parsed term list
// (construction mode 4, §4.5).
func NewVirtualFolderView(dbs []*msgdb.DB, terms []Term) (*LiveView, error) {
	filter, err := compileTerms(terms)
	if err != nil {
		return nil, err
	}
	return newLiveView(append([]*msgdb.DB(nil), dbs...), filter), nil
}

// NewVirtualFolderViewFromWrapper reads and parses a registry virtual
// folder's stored search string and builds the corresponding LiveView,
// also resolving its search-folder list against open, which must return
// an open *msgdb.DB for a given folder id.
func NewVirtualFolderViewFromWrapper(w *registry.VirtualFolderWrapper, open func(folderID int64) (*msgdb.DB, error)) (*LiveView, error) {
	terms, err := registry.ParseSearchTerms(w, ParseSearchString)
	if err != nil {
		return nil, err
	}
	ids, err := w.SearchFolderIDs()
	if err != nil {
		return nil, err
	}
	dbs := make([]*msgdb.DB, 0, len(ids))
	for _, id := range ids {
		db, err := open(id)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, db)
	}
	return NewVirtualFolderView(dbs, terms)
}

// Matches reports whether h satisfies this view's filter. Folder-scoped
// views (modes 1 and 2) have no filter and match every header handed to
// them, since scope is already expressed by which db the header came from.
func (v *LiveView) Matches(h *msgdb.Header) bool {
	if v.filter == nil {
		return true
	}
	return v.filter(h)
}

func (v *LiveView) filterTerms() []msgdb.FilterTerm {
	if v.filter == nil {
		return nil
	}
	return []msgdb.FilterTerm{msgdb.FilterTerm(v.filter)}
}

// CountMessages returns the number of messages currently matching this
// view, recomputed fresh against the store (§4.5.2, §4.5.3).
func (v *LiveView) CountMessages() (int64, error) {
	return v.count(false)
}

// CountUnreadMessages returns the number of matching messages not marked
// read.
func (v *LiveView) CountUnreadMessages() (int64, error) {
	return v.count(true)
}

func (v *LiveView) count(unreadOnly bool) (int64, error) {
	start := time.Now()
	op := "count"
	if unreadOnly {
		op = "count_unread"
	}
	defer func() { metrics.LiveViewQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	var total int64
	for _, db := range v.dbs {
		e := db.GetFilterEnumerator(v.filterTerms())
		for {
			h, err := e.Next()
			if err != nil {
				e.Close()
				return 0, err
			}
			if h == nil {
				break
			}
			if unreadOnly && h.IsRead() {
				continue
			}
			total++
		}
		e.Close()
	}
	return total, nil
}

var sortColumns = map[string]func(a, b Message) bool{
	"Date":    func(a, b Message) bool { return a.Date < b.Date },
	"Subject": func(a, b Message) bool { return a.Subject < b.Subject },
	"Sender":  func(a, b Message) bool { return a.Sender < b.Sender },
	"Flags":   func(a, b Message) bool { return a.Flags < b.Flags },
}

// SelectMessages returns the view's matching messages ordered by
// sortColumn (one of Date, Subject, Sender, Flags), sliced to
// [offset, offset+limit). A non-positive limit returns every remaining
// row after offset.
func (v *LiveView) SelectMessages(limit, offset int, sortColumn string, descending bool) ([]Message, error) {
	less, ok := sortColumns[sortColumn]
	if !ok {
		return nil, dberr.New(dberr.Unexpected, "unsupported sort column: "+sortColumn)
	}

	start := time.Now()
	defer func() { metrics.LiveViewQueryDuration.WithLabelValues("select").Observe(time.Since(start).Seconds()) }()

	var all []Message
	for _, db := range v.dbs {
		e := db.GetFilterEnumerator(v.filterTerms())
		for {
			h, err := e.Next()
			if err != nil {
				e.Close()
				return nil, err
			}
			if h == nil {
				break
			}
			all = append(all, toMessage(h))
		}
		e.Close()
	}

	sort.SliceStable(all, func(i, j int) bool {
		if descending {
			return less(all[j], all[i])
		}
		return less(all[i], all[j])
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// dbBridge adapts one msgdb.DB's listener bus to a LiveView, since
// multi-folder scope means subscribing to more than one bus even though
// the view itself exposes exactly one Listener to its caller.
type dbBridge struct {
	view *LiveView
	db   *msgdb.DB
}

func (b *dbBridge) Notify(ev msgdb.Event) uint32 {
	switch ev.Kind {
	case msgdb.EventHdrAdded, msgdb.EventHdrDeleted, msgdb.EventHdrFlagsChanged, msgdb.EventReadChanged:
		b.view.onEvent(b.db, ev)
	case msgdb.EventAnnouncerGoingAway:
		b.view.forgetDB(b.db)
	}
	return 0
}

// AttachListener registers l to receive this view's MessageAdded/
// MessageRemoved notifications. Only one listener may be attached at a
// time (§4.5.2).
func (v *LiveView) AttachListener(l Listener) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.listener != nil {
		return dberr.New(dberr.Unexpected, "a listener is already attached to this live view")
	}
	v.listener = l
	for _, db := range v.dbs {
		b := &dbBridge{view: v, db: db}
		v.bridges[db] = b
		db.AddListener(b)
	}
	return nil
}

// DetachListener removes the currently attached listener, if any, and
// unsubscribes from every underlying database's listener bus.
func (v *LiveView) DetachListener() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for db, b := range v.bridges {
		db.RemoveListener(b)
	}
	v.bridges = make(map[*msgdb.DB]*dbBridge)
	v.listener = nil
}

func (v *LiveView) onEvent(db *msgdb.DB, ev msgdb.Event) {
	if ev.Header == nil {
		return
	}
	metrics.LiveViewRecomputes.Inc()

	v.mu.Lock()
	listener := v.listener
	states := v.matched[db]
	if states == nil {
		states = make(map[msgdb.MessageKey]bool)
		v.matched[db] = states
	}
	key := ev.Header.Key

	if ev.Kind == msgdb.EventHdrDeleted {
		wasMatched := states[key]
		delete(states, key)
		v.mu.Unlock()
		if wasMatched && listener != nil {
			listener.MessageRemoved(ev.Header)
		}
		return
	}

	wasMatched := states[key]
	nowMatched := v.Matches(ev.Header)
	states[key] = nowMatched
	v.mu.Unlock()

	if listener == nil || wasMatched == nowMatched {
		return
	}
	if nowMatched {
		listener.MessageAdded(ev.Header)
	} else {
		listener.MessageRemoved(ev.Header)
	}
}

func (v *LiveView) forgetDB(db *msgdb.DB) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.matched, db)
	delete(v.bridges, db)
}
