// Package liveview implements the live-view query engine (§4.5): filter
// term compilation, prepared count/select operations and single-listener
// change notification layered over a message summary database.
package liveview

import (
	"strconv"
	"strings"
	"time"

	"github.com/hkdb/aerion/internal/dberr"
	"github.com/hkdb/aerion/internal/msgdb"
)

// Attribute is a filterable header field.
type Attribute int

const (
	AttrDate Attribute = iota
	AttrSender
	AttrTo
	AttrCc
	AttrSubject
	AttrHasAttachmentStatus
	AttrKeywords
)

// Operator is a comparison applied to an Attribute's value.
type Operator int

const (
	OpContains Operator = iota
	OpDoesntContain
	OpBeginsWith
	OpEndsWith
	OpIs
	OpIsnt
	OpIsEmpty
	OpIsntEmpty
	OpIsBefore
	OpIsAfter
	OpIsLessThan
	OpIsGreaterThan
)

// Term is one (attribute, operator, value) filter clause. BooleanAnd
// decides how this term joins with the running result of every term to
// its left: true ANDs, false ORs (terms are composed left-to-right, never
// by operator precedence). The first term's BooleanAnd is ignored. A term
// with MatchAll set short-circuits the whole clause to "always true",
// regardless of any other term present.
type Term struct {
	Attribute  Attribute
	Operator   Operator
	Value      string
	BooleanAnd bool
	MatchAll   bool
}

type compiledTerm struct {
	match      func(h *msgdb.Header) bool
	booleanAnd bool
}

// compile turns a single Term into a predicate over *msgdb.Header.
//
// The underlying store is a token/cell row store, not a flat relational
// "messages" table with one typed column per attribute, so there is no
// literal SQL WHERE fragment to build here; a term compiles straight to a
// Go closure, evaluated per-row as the row store's iterator walks the
// folder's rows (msgdb.GetFilterEnumerator). Because the match is a plain
// string comparison rather than a SQL LIKE pattern assembled from a
// literal value, there is no need to escape "%", "_" or the LIKE escape
// character itself — the literal Value always means exactly what it says.
func compile(t Term) (func(h *msgdb.Header) bool, error) {
	switch t.Attribute {
	case AttrDate:
		return compileDate(t)
	case AttrSender:
		return compileString(t, func(h *msgdb.Header) string { return h.Sender })
	case AttrTo:
		return compileString(t, func(h *msgdb.Header) string { return h.Recipients })
	case AttrCc:
		return compileString(t, func(h *msgdb.Header) string { return h.CcList })
	case AttrSubject:
		return compileString(t, func(h *msgdb.Header) string { return h.Subject })
	case AttrHasAttachmentStatus:
		return compileHasAttachment(t)
	case AttrKeywords:
		return compileKeywords(t)
	default:
		return nil, dberr.New(dberr.Unexpected, "unknown filter attribute")
	}
}

func compileString(t Term, field func(h *msgdb.Header) string) (func(h *msgdb.Header) bool, error) {
	value := t.Value
	switch t.Operator {
	case OpContains:
		return func(h *msgdb.Header) bool { return strings.Contains(field(h), value) }, nil
	case OpDoesntContain:
		return func(h *msgdb.Header) bool { return !strings.Contains(field(h), value) }, nil
	case OpBeginsWith:
		return func(h *msgdb.Header) bool { return strings.HasPrefix(field(h), value) }, nil
	case OpEndsWith:
		return func(h *msgdb.Header) bool { return strings.HasSuffix(field(h), value) }, nil
	case OpIs:
		return func(h *msgdb.Header) bool { return field(h) == value }, nil
	case OpIsnt:
		return func(h *msgdb.Header) bool { return field(h) != value }, nil
	case OpIsEmpty:
		return func(h *msgdb.Header) bool { return field(h) == "" }, nil
	case OpIsntEmpty:
		return func(h *msgdb.Header) bool { return field(h) != "" }, nil
	default:
		return nil, dberr.New(dberr.Unexpected, "operator not valid for a string attribute")
	}
}

// parseDateValue accepts an RFC 3339 timestamp and returns microseconds
// since the epoch, matching Header.Date's unit.
func parseDateValue(value string) (int64, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, dberr.Wrap(dberr.Unexpected, "invalid date filter value", err)
	}
	return ts.UnixMicro(), nil
}

func compileDate(t Term) (func(h *msgdb.Header) bool, error) {
	switch t.Operator {
	case OpIsEmpty:
		return func(h *msgdb.Header) bool { return h.Date == 0 }, nil
	case OpIsntEmpty:
		return func(h *msgdb.Header) bool { return h.Date != 0 }, nil
	}

	want, err := parseDateValue(t.Value)
	if err != nil {
		return nil, err
	}
	switch t.Operator {
	case OpIs:
		return func(h *msgdb.Header) bool { return h.Date == want }, nil
	case OpIsnt:
		return func(h *msgdb.Header) bool { return h.Date != want }, nil
	case OpIsBefore, OpIsLessThan:
		return func(h *msgdb.Header) bool { return h.Date < want }, nil
	case OpIsAfter, OpIsGreaterThan:
		return func(h *msgdb.Header) bool { return h.Date > want }, nil
	default:
		return nil, dberr.New(dberr.Unexpected, "operator not valid for the Date attribute")
	}
}

func compileHasAttachment(t Term) (func(h *msgdb.Header) bool, error) {
	want, err := strconv.ParseBool(t.Value)
	if err != nil {
		return nil, dberr.Wrap(dberr.Unexpected, "HasAttachmentStatus value must be a bool", err)
	}
	has := func(h *msgdb.Header) bool { return h.Flags&msgdb.FlagHasAttachment != 0 }
	switch t.Operator {
	case OpIs:
		return func(h *msgdb.Header) bool { return has(h) == want }, nil
	case OpIsnt:
		return func(h *msgdb.Header) bool { return has(h) != want }, nil
	default:
		return nil, dberr.New(dberr.Unexpected, "operator not valid for HasAttachmentStatus")
	}
}

// tagsIncludeToken reports whether tag is present as a whole token in a
// space-separated tag cell, the Go-side equivalent of the TAGS_INCLUDE SQL
// function named in §4.5.1.
func tagsIncludeToken(tags, tag string) bool {
	for _, f := range strings.Fields(tags) {
		if f == tag {
			return true
		}
	}
	return false
}

func compileKeywords(t Term) (func(h *msgdb.Header) bool, error) {
	tag := t.Value
	switch t.Operator {
	case OpContains, OpIs:
		return func(h *msgdb.Header) bool { return tagsIncludeToken(h.Tags, tag) }, nil
	case OpDoesntContain, OpIsnt:
		return func(h *msgdb.Header) bool { return !tagsIncludeToken(h.Tags, tag) }, nil
	case OpIsEmpty:
		return func(h *msgdb.Header) bool { return strings.TrimSpace(h.Tags) == "" }, nil
	case OpIsntEmpty:
		return func(h *msgdb.Header) bool { return strings.TrimSpace(h.Tags) != "" }, nil
	default:
		return nil, dberr.New(dberr.Unexpected, "operator not valid for Keywords")
	}
}

// compileTerms compiles every term and composes them left-to-right by
// BooleanAnd into one combined predicate. A MatchAll term anywhere in
// terms short-circuits the result to always-true. An empty terms list
// also matches everything, the identity clause for non-virtual views.
func compileTerms(terms []Term) (func(h *msgdb.Header) bool, error) {
	for _, t := range terms {
		if t.MatchAll {
			return func(h *msgdb.Header) bool { return true }, nil
		}
	}
	if len(terms) == 0 {
		return func(h *msgdb.Header) bool { return true }, nil
	}

	compiled := make([]compiledTerm, len(terms))
	for i, t := range terms {
		fn, err := compile(t)
		if err != nil {
			return nil, err
		}
		compiled[i] = compiledTerm{match: fn, booleanAnd: t.BooleanAnd}
	}

	return func(h *msgdb.Header) bool {
		result := compiled[0].match(h)
		for _, c := range compiled[1:] {
			v := c.match(h)
			if c.booleanAnd {
				result = result && v
			} else {
				result = result || v
			}
		}
		return result
	}, nil
}
