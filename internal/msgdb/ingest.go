package msgdb

import (
	"bufio"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// ParseEnvelope reads the RFC 5322 header block off r and extracts the
// Message-Id and thread-linkage fields threadHeader needs (§4.3) before a
// header is ever handed to CreateMsgHdr/AddNewHdrToDB. r need not contain a
// body. References falls back to In-Reply-To when absent, the way the
// historical implementation resolves a message's parent when a mailer
// omits References entirely.
func ParseEnvelope(r io.Reader) (messageID string, references []string, err error) {
	h, err := message.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return "", nil, err
	}
	mh := mail.Header{Header: h}

	messageID, _ = mh.MessageID()

	references, err = mh.MsgIDList("References")
	if err != nil || len(references) == 0 {
		references, _ = mh.MsgIDList("In-Reply-To")
	}
	return messageID, references, nil
}
