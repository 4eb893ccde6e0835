// Package msgdb implements the per-folder message summary database: header
// identity cache, threading engine, change notification, new-set and
// virtual-folder result cache described by the message-metadata CORE.
package msgdb

// MessageKey identifies a header within its folder. Assigned monotonically
// by the row store on insert and never reused once committed.
type MessageKey uint32

const (
	// allMsgHdrsTableKey is the fixed OID under which the row store's
	// single all-messages table is interned.
	allMsgHdrsTableKey uint32 = 1

	// tableKeyForThreadOne substitutes for a thread whose root message key
	// is 1, since that value collides with allMsgHdrsTableKey in the
	// historical row-store layout. The collision no longer exists under
	// the SQLite-backed store, but the substitution is preserved exactly
	// as a documented behaviour rather than silently dropped.
	tableKeyForThreadOne uint32 = 0xFFFFFFFE

	// firstPseudoKey marks the start of the "fake offline" key range; real
	// keys below this value were committed by a server.
	firstPseudoKey uint32 = 0xFFFFFF80

	// forceReparseKey is the threshold at which an assigned key is close
	// enough to keyspace exhaustion that the folder must be reparsed.
	forceReparseKey uint32 = 0xFFFFFFF0
)

// Flags is the per-header bitmask (§3.1).
type Flags uint32

const (
	FlagRead Flags = 1 << iota
	FlagMarked
	FlagReplied
	FlagForwarded
	FlagRedirected
	FlagHasAttachment
	FlagOffline
	FlagIMAPDeleted
	FlagExpunged
	FlagNew
	FlagHasRe
	FlagMDNReportNeeded
	FlagMDNReportSent
	FlagIgnored
	FlagWatched
	FlagFeedMsg
)

// Header is one message's mutable, identity-carrying record. A given
// MessageKey maps to exactly one live *Header per open DB (the use-cache
// identity guarantee, §4.2.3).
type Header struct {
	Key          MessageKey
	FolderID     int64
	ThreadID     MessageKey
	ThreadParent MessageKey
	MessageID    string
	Date         int64 // microseconds since epoch
	Sender       string
	Recipients   string
	CcList       string
	BccList      string
	Subject      string
	Flags        Flags
	Tags         string
	MessageSize  uint32
	LineCount    uint32
	OfflineSize  uint32
	StoreToken   string
	Charset      string
	References   []string

	stringProps map[string]string
	uint32Props map[string]uint32
}

// StringProperty reads a generic free-form string property.
func (h *Header) StringProperty(name string) string {
	if h.stringProps == nil {
		return ""
	}
	return h.stringProps[name]
}

// setStringProperty writes a generic free-form string property in memory;
// persistence happens through DB.SetStringProperty.
func (h *Header) setStringProperty(name, value string) {
	if h.stringProps == nil {
		h.stringProps = make(map[string]string)
	}
	h.stringProps[name] = value
}

// Uint32Property reads a generic free-form numeric property.
func (h *Header) Uint32Property(name string) uint32 {
	if h.uint32Props == nil {
		return 0
	}
	return h.uint32Props[name]
}

func (h *Header) setUint32Property(name string, value uint32) {
	if h.uint32Props == nil {
		h.uint32Props = make(map[string]uint32)
	}
	h.uint32Props[name] = value
}

// IsRead reports whether FlagRead is set.
func (h *Header) IsRead() bool { return h.Flags&FlagRead != 0 }

// Thread is a set of messages sharing one conversation identity.
type Thread struct {
	ThreadKey         MessageKey
	RootKey           MessageKey
	Children          []MessageKey
	Flags             Flags
	NumChildren       int
	NumUnreadChildren int
	NewestMsgDate     int64
	Subject           string
}

// RetentionMode selects how ApplyRetentionSettings chooses purge
// candidates (§3.1, §4.6.1).
type RetentionMode int

const (
	RetentionAll RetentionMode = iota
	RetentionByAge
	RetentionByCount
)

// RetentionSettings is a folder's purge policy.
type RetentionSettings struct {
	Mode                RetentionMode
	DaysToKeepBodies    int
	CleanupBodiesByDays int
	UseServerDefaults   bool
	ApplyToFlagged      bool
	AgeDays             int
	KeepCount           int
}

// OfflineOperationKind enumerates the queued mutation kinds.
type OfflineOperationKind int

const (
	OfflineOpMove OfflineOperationKind = iota
	OfflineOpCopy
	OfflineOpFlagChange
)

// OfflineOperation is a queued mutation to replay once the server is
// reachable again.
type OfflineOperation struct {
	ID          string
	FolderID    int64
	Kind        OfflineOperationKind
	Keys        []MessageKey
	Destination string
}

// FolderInfo is the summary DB's per-store singleton counters row.
type FolderInfo struct {
	Version            int
	TotalMessages       int64
	UnreadMessages       int64
	PendingMessages      int64
	ExpungedBytes        int64
	Retention            RetentionSettings
	HighWaterKey         MessageKey
	SortColumn           string
	SortDescending       bool
	ViewFlags            uint32
	ForceReparse         bool
	LastPurgeTime        string
	StringProperties     map[string]string
}
