package liveview

import (
	"strconv"
	"strings"

	"github.com/hkdb/aerion/internal/dberr"
)

// termSep separates terms within a search string; fieldSep separates a
// single term's fields. Both are ASCII control characters that never
// occur in a parsed attribute/operator/value, so no escaping is needed.
const (
	termSep  = "\x1e"
	fieldSep = "\x1f"
)

var attrNames = map[Attribute]string{
	AttrDate:                "Date",
	AttrSender:               "Sender",
	AttrTo:                   "To",
	AttrCc:                   "Cc",
	AttrSubject:              "Subject",
	AttrHasAttachmentStatus:  "HasAttachmentStatus",
	AttrKeywords:             "Keywords",
}

var namesToAttr = func() map[string]Attribute {
	m := make(map[string]Attribute, len(attrNames))
	for a, s := range attrNames {
		m[s] = a
	}
	return m
}()

var opNames = map[Operator]string{
	OpContains:       "Contains",
	OpDoesntContain:  "DoesntContain",
	OpBeginsWith:     "BeginsWith",
	OpEndsWith:       "EndsWith",
	OpIs:             "Is",
	OpIsnt:           "Isnt",
	OpIsEmpty:        "IsEmpty",
	OpIsntEmpty:      "IsntEmpty",
	OpIsBefore:       "IsBefore",
	OpIsAfter:        "IsAfter",
	OpIsLessThan:     "IsLessThan",
	OpIsGreaterThan:  "IsGreaterThan",
}

var namesToOp = func() map[string]Operator {
	m := make(map[string]Operator, len(opNames))
	for o, s := range opNames {
		m[s] = o
	}
	return m
}()

// FormatSearchString serializes terms into the flat string a virtual
// folder's search_string column stores (registry.VirtualFolderWrapper
// treats it as opaque). The grammar is this package's own; nothing else
// in the module parses it.
func FormatSearchString(terms []Term) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		matchAll := "0"
		if t.MatchAll {
			matchAll = "1"
		}
		booleanAnd := "0"
		if t.BooleanAnd {
			booleanAnd = "1"
		}
		parts[i] = strings.Join([]string{
			attrNames[t.Attribute],
			opNames[t.Operator],
			t.Value,
			booleanAnd,
			matchAll,
		}, fieldSep)
	}
	return strings.Join(parts, termSep)
}

// ParseSearchString is the TermParser registry.ParseSearchTerms expects:
// it turns a virtual folder's raw search string back into []Term. An
// empty string parses to no terms (matches everything).
func ParseSearchString(s string) ([]Term, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	records := strings.Split(s, termSep)
	terms := make([]Term, 0, len(records))
	for _, rec := range records {
		fields := strings.Split(rec, fieldSep)
		if len(fields) != 5 {
			return nil, dberr.New(dberr.Unexpected, "malformed search term record")
		}
		attr, ok := namesToAttr[fields[0]]
		if !ok {
			return nil, dberr.New(dberr.Unexpected, "unknown filter attribute in search string: "+fields[0])
		}
		op, ok := namesToOp[fields[1]]
		if !ok {
			return nil, dberr.New(dberr.Unexpected, "unknown filter operator in search string: "+fields[1])
		}
		booleanAnd, err := strconv.ParseBool(fields[3])
		if err != nil {
			return nil, dberr.Wrap(dberr.Unexpected, "malformed booleanAnd flag", err)
		}
		matchAll, err := strconv.ParseBool(fields[4])
		if err != nil {
			return nil, dberr.Wrap(dberr.Unexpected, "malformed matchAll flag", err)
		}
		terms = append(terms, Term{
			Attribute:  attr,
			Operator:   op,
			Value:      fields[2],
			BooleanAnd: booleanAnd,
			MatchAll:   matchAll,
		})
	}
	return terms, nil
}
