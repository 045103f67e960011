package delivery

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/playlistbot/playlistbot/helpers"
	"github.com/playlistbot/playlistbot/responder"
	"lukechampine.com/blake3"
)

// ReplyOptions describes an automatic reply.
type ReplyOptions struct {
	From    string // "Name <addr>" or bare address
	To      string
	Subject string
	Body    string
	Date    time.Time

	// InReplyTo is the original Message-ID, with or without angle brackets.
	// When set, In-Reply-To and References are added.
	InReplyTo string
	// MessageID of the reply, with or without angle brackets. Required.
	MessageID string
}

// BuildReply renders an RFC 5322 text/plain reply marked as auto-submitted.
func BuildReply(opts ReplyOptions) ([]byte, error) {
	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return nil, fmt.Errorf("invalid From address %q: %w", opts.From, err)
	}
	to, err := mail.ParseAddress(opts.To)
	if err != nil {
		return nil, fmt.Errorf("invalid To address %q: %w", opts.To, err)
	}
	if opts.MessageID == "" {
		return nil, fmt.Errorf("reply Message-ID is required")
	}
	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(helpers.SanitizeHeaderValue(opts.Subject))
	h.SetMessageID(stripAngles(opts.MessageID))
	if orig := stripAngles(helpers.SanitizeHeaderValue(opts.InReplyTo)); orig != "" {
		h.SetMsgIDList("In-Reply-To", []string{orig})
		h.SetMsgIDList("References", []string{orig})
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.Set("X-Auto-Response-Suppress", "All")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(opts.Body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReplyMessageID derives the reply's Message-ID from the original message's
// id, so a repeated reply to the same message carries the same id and can be
// collapsed by the recipient's client.
func ReplyMessageID(original, hostname string) string {
	sum := blake3.Sum256([]byte(stripAngles(original)))
	return "<" + hex.EncodeToString(sum[:16]) + "@" + hostname + ">"
}

// ReplyFor fills ReplyOptions for answering original. Messages without a
// Message-ID get an id derived from recipient, subject and day.
func ReplyFor(original responder.Message, from, hostname, to, subject, body string, now time.Time) ReplyOptions {
	var origID string
	if id, ok := original.(responder.Identified); ok {
		origID = id.MessageID()
	}

	key := origID
	if key == "" {
		key = to + "\n" + subject + "\n" + now.UTC().Format(time.DateOnly)
	}

	return ReplyOptions{
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Date:      now,
		InReplyTo: origID,
		MessageID: ReplyMessageID(key, hostname),
	}
}

func stripAngles(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
