package msgdb

// Fixed cell tokens interned into every summary database at first
// open/create (§4.2.1). Re-interning any of these names against the same
// store always yields the same token, since rowstore.InternToken is
// idempotent per name.
var fixedTokenNames = []string{
	"subject",
	"sender",
	"message-id",
	"references",
	"recipients",
	"date",
	"size",
	"flags",
	"priority",
	"label",
	"numLines",
	"ccList",
	"bccList",
	"msgCharSet",
	"threadId",
	"threadFlags",
	"msgThreadId",
	"children",
	"unreadChildren",
	"threadSubject",
	"threadParent",
	"threadRoot",
	"threadNewestMsgDate",
	"msgOffset",
	"offlineMsgSize",
	"keywords",
}

// Table kinds interned alongside the fixed cell tokens.
const (
	tableKindAllMessages = "allmsghdrs"
	tableKindAllThreads  = "allthreads"
	tableKindThread      = "thread"
)

// tokens holds the resolved token ids for every fixed cell name, looked up
// once per DB open.
type tokens struct {
	subject             int64
	sender              int64
	messageID           int64
	references          int64
	recipients          int64
	date                int64
	size                int64
	flags               int64
	priority            int64
	label               int64
	numLines            int64
	ccList              int64
	bccList             int64
	msgCharSet          int64
	threadID            int64
	threadFlags         int64
	msgThreadID         int64
	children            int64
	unreadChildren      int64
	threadSubject       int64
	threadParent        int64
	threadRoot          int64
	threadNewestMsgDate int64
	msgOffset           int64
	offlineMsgSize      int64
	keywords            int64
}

func internFixedTokens(s storeInterner) (*tokens, error) {
	ids := make(map[string]int64, len(fixedTokenNames))
	for _, name := range fixedTokenNames {
		id, err := s.InternToken(name)
		if err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return &tokens{
		subject:             ids["subject"],
		sender:              ids["sender"],
		messageID:           ids["message-id"],
		references:          ids["references"],
		recipients:          ids["recipients"],
		date:                ids["date"],
		size:                ids["size"],
		flags:               ids["flags"],
		priority:            ids["priority"],
		label:               ids["label"],
		numLines:            ids["numLines"],
		ccList:              ids["ccList"],
		bccList:             ids["bccList"],
		msgCharSet:          ids["msgCharSet"],
		threadID:            ids["threadId"],
		threadFlags:         ids["threadFlags"],
		msgThreadID:         ids["msgThreadId"],
		children:            ids["children"],
		unreadChildren:      ids["unreadChildren"],
		threadSubject:       ids["threadSubject"],
		threadParent:        ids["threadParent"],
		threadRoot:          ids["threadRoot"],
		threadNewestMsgDate: ids["threadNewestMsgDate"],
		msgOffset:           ids["msgOffset"],
		offlineMsgSize:      ids["offlineMsgSize"],
		keywords:            ids["keywords"],
	}, nil
}

// storeInterner is the subset of *rowstore.Store used when bootstrapping
// tokens, kept narrow so tests can fake it without a real store.
type storeInterner interface {
	InternToken(name string) (int64, error)
}
