// Package memory is an in-process mailbox with the same search and ordering
// behaviour as the IMAP and Gmail adapters. It also records replies, so it
// can stand in for both the mailbox and the sender.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/playlistbot/playlistbot/responder"
)

// Mailbox holds threads keyed by an arbitrary thread id.
type Mailbox struct {
	mu      sync.Mutex
	now     func() time.Time
	order   []string
	threads map[string][]*Message
	sent    []SentReply
}

// Message is a stored email. Its read flag is shared with every snapshot
// returned by SearchUnreadSince.
type Message struct {
	box       *Mailbox
	subject   string
	from      string
	messageID string
	received  time.Time
	read      bool
}

// Incoming describes a message to deliver into the mailbox.
type Incoming struct {
	Subject   string
	From      string
	MessageID string
	Received  time.Time
	Read      bool
}

// SentReply is a reply recorded by SendReply.
type SentReply struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

// New returns an empty mailbox. now defaults to time.Now.
func New(now func() time.Time) *Mailbox {
	if now == nil {
		now = time.Now
	}
	return &Mailbox{now: now, threads: make(map[string][]*Message)}
}

// Deliver appends a message to the thread with the given id, creating the
// thread if needed.
func (m *Mailbox) Deliver(threadID string, in Incoming) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := &Message{
		box:       m,
		subject:   in.Subject,
		from:      in.From,
		messageID: in.MessageID,
		received:  in.Received,
		read:      in.Read,
	}
	if _, ok := m.threads[threadID]; !ok {
		m.order = append(m.order, threadID)
	}
	m.threads[threadID] = append(m.threads[threadID], msg)
	return msg
}

// SearchUnreadSince returns every thread with at least one unread message
// received within window. Each thread lists all of its messages, most recent
// first, and threads are ordered by their most recent message.
func (m *Mailbox) SearchUnreadSince(ctx context.Context, window time.Duration) ([]responder.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	var result []*thread
	for _, id := range m.order {
		msgs := m.threads[id]
		candidate := false
		for _, msg := range msgs {
			if !msg.read && !msg.received.Before(cutoff) {
				candidate = true
				break
			}
		}
		if !candidate {
			continue
		}
		snapshot := make([]*Message, len(msgs))
		copy(snapshot, msgs)
		sort.SliceStable(snapshot, func(i, j int) bool {
			return snapshot[i].received.After(snapshot[j].received)
		})
		result = append(result, &thread{msgs: snapshot})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].msgs[0].received.After(result[j].msgs[0].received)
	})

	threads := make([]responder.Thread, len(result))
	for i, t := range result {
		threads[i] = t
	}
	return threads, nil
}

// SendReply records the reply.
func (m *Mailbox) SendReply(ctx context.Context, original responder.Message, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := SentReply{To: to, Subject: subject, Body: body}
	if id, ok := original.(responder.Identified); ok {
		reply.InReplyTo = id.MessageID()
	}
	m.mu.Lock()
	m.sent = append(m.sent, reply)
	m.mu.Unlock()
	return nil
}

// Sent returns the replies recorded so far.
func (m *Mailbox) Sent() []SentReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentReply, len(m.sent))
	copy(out, m.sent)
	return out
}

type thread struct {
	msgs []*Message
}

func (t *thread) Messages() []responder.Message {
	out := make([]responder.Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m
	}
	return out
}

func (msg *Message) Subject() string { return msg.subject }

func (msg *Message) Sender() string { return msg.from }

func (msg *Message) MessageID() string { return msg.messageID }

func (msg *Message) Received() time.Time { return msg.received }

// Read reports the current read flag.
func (msg *Message) Read() bool {
	msg.box.mu.Lock()
	defer msg.box.mu.Unlock()
	return msg.read
}

func (msg *Message) MarkRead(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.box.mu.Lock()
	msg.read = true
	msg.box.mu.Unlock()
	return nil
}
