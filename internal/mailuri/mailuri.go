// Package mailuri parses the mail/news URI schemes this module consumes
// and produces (§6): news, snews, nntp, mailto, smtp, smtps, mailbox,
// imap, and the internal news-message form used for message references.
package mailuri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hkdb/aerion/internal/dberr"
)

// Scheme is one of the recognized URI schemes.
type Scheme string

const (
	SchemeNews        Scheme = "news"
	SchemeSNews       Scheme = "snews"
	SchemeNNTP        Scheme = "nntp"
	SchemeMailto      Scheme = "mailto"
	SchemeSMTP        Scheme = "smtp"
	SchemeSMTPS       Scheme = "smtps"
	SchemeMailbox     Scheme = "mailbox"
	SchemeIMAP        Scheme = "imap"
	SchemeNewsMessage Scheme = "news-message"
)

var knownSchemes = map[Scheme]bool{
	SchemeNews: true, SchemeSNews: true, SchemeNNTP: true, SchemeMailto: true,
	SchemeSMTP: true, SchemeSMTPS: true, SchemeMailbox: true, SchemeIMAP: true,
	SchemeNewsMessage: true,
}

// Action enumerates the NNTP operation an nntp:/news: URI requests,
// inferred from which query parameters are present (nsNntpService.cpp's
// GetNewNews/Post/Cancel/Search dispatch).
type Action int

const (
	ActionFetch Action = iota
	ActionCancel
	ActionPost
	ActionGetNewNews
	ActionListGroups
	ActionListNewGroups
	ActionSearch
	ActionSaveToDisk
	ActionFetchPart
)

// URI is a parsed mail/news URI (§6): (scheme, host, port, user, path,
// query), with NNTP-specific fields populated when the scheme is news,
// snews, nntp, or news-message.
type URI struct {
	Scheme Scheme
	Host   string
	Port   int
	User   string
	Path   string
	Query  url.Values

	// NNTP-only.
	Group    string
	Key      string
	Part     string
	Type     string
	Filename string
	Header   string
	Action   Action
}

// Parse parses raw into a URI, recognizing the query parameters
// group=, key=, part=, type=, filename=, header= (§6).
func Parse(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidOrMissingServer, "parse uri", err)
	}
	scheme := Scheme(strings.ToLower(u.Scheme))
	if !knownSchemes[scheme] {
		return nil, dberr.New(dberr.InvalidOrMissingServer, fmt.Sprintf("unrecognized uri scheme %q", u.Scheme))
	}

	out := &URI{
		Scheme: scheme,
		Host:   u.Hostname(),
		Path:   strings.TrimPrefix(u.Path, "/"),
		Query:  u.Query(),
	}
	if u.User != nil {
		out.User = u.User.Username()
	}
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, dberr.Wrap(dberr.InvalidOrMissingServer, "parse uri port", err)
		}
		out.Port = p
	}

	switch scheme {
	case SchemeNews, SchemeSNews, SchemeNNTP, SchemeNewsMessage:
		out.populateNNTP()
	}

	return out, nil
}

func (u *URI) populateNNTP() {
	u.Group = u.Query.Get("group")
	u.Key = u.Query.Get("key")
	u.Part = u.Query.Get("part")
	u.Type = u.Query.Get("type")
	u.Filename = u.Query.Get("filename")
	u.Header = u.Query.Get("header")
	u.Action = u.inferAction()
}

// inferAction mirrors nsNntpService.cpp's dispatch: a part= query with a
// non-display type means "save to disk"; header=print/filter is a
// variant fetch; group= with no key means a group listing or new-news
// request; an explicit message path with no group means a direct fetch.
func (u *URI) inferAction() Action {
	switch {
	case u.Header == "filter":
		return ActionFetch
	case u.Part != "" && !isDisplayType(u.Type):
		return ActionSaveToDisk
	case u.Part != "":
		return ActionFetchPart
	case u.Query.Has("cancel"):
		return ActionCancel
	case u.Query.Has("post"):
		return ActionPost
	case u.Query.Has("search"):
		return ActionSearch
	case u.Query.Has("newgroups"):
		return ActionListNewGroups
	case u.Group != "" && u.Key == "" && u.Path == "":
		return ActionListGroups
	case u.Group != "" && u.Key == "":
		return ActionGetNewNews
	default:
		return ActionFetch
	}
}

// isDisplayType reports whether a part= MIME type is meant for inline
// display (message/rfc822, application/x-message-display, application/pdf)
// rather than a save-to-disk attachment fetch (nsNntpService.cpp).
func isDisplayType(t string) bool {
	switch t {
	case "message/rfc822", "application/x-message-display", "application/pdf":
		return true
	default:
		return false
	}
}

// String reassembles the URI, round-tripping query parameters in a
// canonical field order for readability rather than relying on
// url.Values' unordered map iteration.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(string(u.Scheme))
	b.WriteString("://")
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		fmt.Fprintf(&b, ":%d", u.Port)
	}
	if u.Path != "" {
		b.WriteByte('/')
		b.WriteString(u.Path)
	}

	var params []string
	if u.Group != "" {
		params = append(params, "group="+u.Group)
	}
	if u.Key != "" {
		params = append(params, "key="+u.Key)
	}
	if u.Part != "" {
		params = append(params, "part="+u.Part)
	}
	if u.Type != "" {
		params = append(params, "type="+u.Type)
	}
	if u.Filename != "" {
		params = append(params, "filename="+u.Filename)
	}
	if u.Header != "" {
		params = append(params, "header="+u.Header)
	}
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}
